package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// legacySentinel ist der kaputte Serialisierungsrest aus der Altwelt.
// Beim Lesen wird er zu {} koerziert, beim Schreiben abgelehnt.
const legacySentinel = "[object Object]"

// ErrInvalidJSONColumn wird zurückgegeben, wenn ein Schreibversuch den
// Legacy-Sentinel oder kein kanonisches JSON enthält.
var ErrInvalidJSONColumn = errors.New("store: column value is not canonical JSON")

// Store kapselt die gorm-Verbindung und erzwingt Tenant-Scoping auf allen
// Lese- und Schreibpfaden des Kerns.
type Store struct {
	db *gorm.DB
}

// New erstellt einen neuen Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB gibt die rohe Verbindung zurück. Nur für tenant-freie Tabellen
// (accounts, globale Templates) und Migration/Seeding gedacht.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Tenant gibt eine auf den Mandanten gescopte Session zurück. Jede Query
// auf veränderliche Zeilen MUSS hierüber laufen.
func (s *Store) Tenant(accountID uint) *gorm.DB {
	return s.db.Where("account_id = ?", accountID)
}

// TenantTx scoped eine bestehende Transaktion auf den Mandanten.
func TenantTx(tx *gorm.DB, accountID uint) *gorm.DB {
	return tx.Where("account_id = ?", accountID)
}

// InTransaction führt fn in einer Transaktion aus. Jeder Schreibvorgang,
// der Tabellen kreuzt, läuft hierdurch.
func (s *Store) InTransaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// CoerceJSON normalisiert einen JSON-Spaltenwert beim Lesen. Der Legacy-
// Sentinel "[object Object]" und leere Werte werden zu {}.
func CoerceJSON(raw datatypes.JSON) datatypes.JSON {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return datatypes.JSON([]byte("{}"))
	}
	if string(trimmed) == legacySentinel || string(trimmed) == `"`+legacySentinel+`"` {
		return datatypes.JSON([]byte("{}"))
	}
	if !json.Valid(trimmed) {
		return datatypes.JSON([]byte("{}"))
	}
	return raw
}

// ValidateJSONColumn prüft einen Spaltenwert vor dem Schreiben. Der
// Legacy-Sentinel und nicht-kanonisches JSON werden abgelehnt.
func ValidateJSONColumn(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if bytes.Contains(trimmed, []byte(legacySentinel)) {
		return fmt.Errorf("%w: legacy sentinel %q", ErrInvalidJSONColumn, legacySentinel)
	}
	if !json.Valid(trimmed) {
		return ErrInvalidJSONColumn
	}
	return nil
}

// MarshalColumn serialisiert v kanonisch für eine JSONB-Spalte.
func MarshalColumn(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateJSONColumn(b); err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// UnmarshalColumn dekodiert eine JSONB-Spalte nach dest, mit Koerzierung
// defekter Altwerte.
func UnmarshalColumn(raw datatypes.JSON, dest any) error {
	return json.Unmarshal([]byte(CoerceJSON(raw)), dest)
}
