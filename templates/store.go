package templates

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"content-forge/models"
	"content-forge/store"
)

// Herkunft eines aufgelösten Templates.
const (
	ProvenanceAccount = "account"
	ProvenanceGlobal  = "global"
)

// ErrTemplateNotFound meldet, dass weder ein Mandanten- noch ein globales
// Template gefunden wurde.
var ErrTemplateNotFound = errors.New("templates: template not found")

// ErrNoCurrentVersion meldet ein Template ohne aktuelle Version. Das wäre
// eine verletzte Invariante und deutet auf eine kaputte Migration hin.
var ErrNoCurrentVersion = errors.New("templates: no current version")

// Resolved bündelt Template, aktuelle Version und Herkunft, damit Aufrufer
// Mandanten-Override von globalem Default unterscheiden können.
type Resolved struct {
	Template   models.PromptTemplate `json:"template"`
	Version    models.PromptVersion  `json:"version"`
	Provenance string                `json:"provenance"`
}

// CreateInput sind die Pflichtfelder beim Anlegen eines Templates.
type CreateInput struct {
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	Prompt        string         `json:"prompt"`
	SystemMessage string         `json:"system_message"`
	Parameters    map[string]any `json:"parameters"`
	Notes         string         `json:"notes"`
	IOSchemas     map[string]any `json:"io_schemas"`
}

// UpdateInput beschreibt eine neue Version. MakeCurrent steuert, ob das
// is_current-Flag atomar auf die neue Version wandert.
type UpdateInput struct {
	Prompt        string         `json:"prompt"`
	SystemMessage string         `json:"system_message"`
	Parameters    map[string]any `json:"parameters"`
	Notes         string         `json:"notes"`
	MakeCurrent   bool           `json:"make_current"`
}

// cacheKey trägt die Mandanten-Identität mit in den Cache. Ein Eintrag
// darf nie über Mandantengrenzen hinweg ausgeliefert werden, auch wenn
// die Auflösung am Ende dasselbe globale Template trifft.
type cacheKey struct {
	accountID uint
	id        uint
}

// Store verwaltet Prompt-Templates und ihre Versionen. Der Cache ist
// prozess-lokal und wird bei jeder Mutation invalidiert.
type Store struct {
	st  *store.Store
	log *zap.Logger

	mu         sync.RWMutex
	byID       map[cacheKey]*Resolved
	byCategory map[string]*Resolved // key: fmt.Sprintf("%d/%s", accountID, category)
}

// NewStore erstellt einen neuen Template-Store.
func NewStore(st *store.Store, log *zap.Logger) *Store {
	return &Store{
		st:         st,
		log:        log,
		byID:       make(map[cacheKey]*Resolved),
		byCategory: make(map[string]*Resolved),
	}
}

// Create validiert die Pflichtfelder, extrahiert die Variablen und legt
// Template plus initiale Version v1 (is_current=true) transaktional an.
func (s *Store) Create(in CreateInput, accountID *uint) (*models.PromptTemplate, error) {
	if in.Name == "" || in.Category == "" || in.Prompt == "" {
		return nil, fmt.Errorf("templates: name, category and prompt are required")
	}
	vars, err := ExtractVariables(in.Prompt, nil)
	if err != nil {
		return nil, err
	}

	uiConfig, err := store.MarshalColumn(map[string]any{"variables": vars})
	if err != nil {
		return nil, err
	}
	ioSchemas, err := store.MarshalColumn(orEmpty(in.IOSchemas))
	if err != nil {
		return nil, err
	}
	params, err := store.MarshalColumn(orEmpty(in.Parameters))
	if err != nil {
		return nil, err
	}

	tpl := models.PromptTemplate{
		AccountID: accountID,
		Name:      in.Name,
		Category:  in.Category,
		Active:    true,
		UIConfig:  uiConfig,
		IOSchemas: ioSchemas,
	}
	err = s.st.InTransaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tpl).Error; err != nil {
			return err
		}
		v1 := models.PromptVersion{
			PromptTemplateID: tpl.ID,
			VersionNumber:    1,
			Prompt:           in.Prompt,
			SystemMessage:    in.SystemMessage,
			Parameters:       params,
			Notes:            in.Notes,
			IsCurrent:        true,
		}
		return tx.Create(&v1).Error
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(tpl.ID)
	return &tpl, nil
}

// Update hängt eine neue Version an (append-only). Nur wenn MakeCurrent
// gesetzt ist, wandert das is_current-Flag in derselben Transaktion.
// Globale Templates sind über die Mandanten-API unveränderlich.
func (s *Store) Update(id uint, in UpdateInput, accountID uint) (*models.PromptVersion, error) {
	resolved, err := s.Get(id, accountID)
	if err != nil {
		return nil, err
	}
	if resolved.Provenance == ProvenanceGlobal {
		return nil, fmt.Errorf("templates: refusing to modify global template %d via tenant API", id)
	}
	if _, err := ExtractVariables(in.Prompt, nil); err != nil {
		return nil, err
	}
	params, err := store.MarshalColumn(orEmpty(in.Parameters))
	if err != nil {
		return nil, err
	}

	var next models.PromptVersion
	err = s.st.InTransaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&models.PromptVersion{}).
			Where("prompt_template_id = ?", id).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}
		next = models.PromptVersion{
			PromptTemplateID: id,
			VersionNumber:    maxVersion + 1,
			Prompt:           in.Prompt,
			SystemMessage:    in.SystemMessage,
			Parameters:       params,
			Notes:            in.Notes,
			IsCurrent:        false,
		}
		if err := tx.Create(&next).Error; err != nil {
			return err
		}
		if in.MakeCurrent {
			return flipCurrent(tx, id, next.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(id)
	return &next, nil
}

// SetCurrentVersion bewegt das is_current-Flag atomar auf die angegebene
// Version (Single-Row-Exchange in einer Transaktion). Globale Templates
// sind über die Mandanten-API unveränderlich.
func (s *Store) SetCurrentVersion(templateID, versionID uint, accountID uint) error {
	resolved, err := s.Get(templateID, accountID)
	if err != nil {
		return err
	}
	if resolved.Provenance == ProvenanceGlobal {
		return fmt.Errorf("templates: refusing to modify global template %d via tenant API", templateID)
	}
	err = s.st.InTransaction(func(tx *gorm.DB) error {
		var v models.PromptVersion
		if err := tx.Where("id = ? AND prompt_template_id = ?", versionID, templateID).
			First(&v).Error; err != nil {
			return err
		}
		return flipCurrent(tx, templateID, versionID)
	})
	if err != nil {
		return err
	}
	s.invalidate(templateID)
	return nil
}

// flipCurrent löscht das Flag auf der bisherigen aktuellen Version und
// setzt es auf der neuen. Muss in einer Transaktion laufen.
func flipCurrent(tx *gorm.DB, templateID, versionID uint) error {
	if err := tx.Model(&models.PromptVersion{}).
		Where("prompt_template_id = ? AND is_current = ?", templateID, true).
		Update("is_current", false).Error; err != nil {
		return err
	}
	return tx.Model(&models.PromptVersion{}).
		Where("id = ? AND prompt_template_id = ?", versionID, templateID).
		Update("is_current", true).Error
}

// Get lädt Template plus aktuelle Version. Mandanten-Templates zuerst,
// dann Fallthrough auf globale (account_id IS NULL).
func (s *Store) Get(id uint, accountID uint) (*Resolved, error) {
	s.mu.RLock()
	if r, ok := s.byID[cacheKey{accountID, id}]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	var tpl models.PromptTemplate
	provenance := ProvenanceAccount
	err := s.st.DB().Where("id = ? AND account_id = ?", id, accountID).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		provenance = ProvenanceGlobal
		err = s.st.DB().Where("id = ? AND account_id IS NULL", id).First(&tpl).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.finishResolve(tpl, provenance, "", accountID)
}

// CurrentByCategory gibt das aktive Template der Kategorie zurück:
// (1) mandanteneigen, (2) global. Fehler, wenn keines existiert.
func (s *Store) CurrentByCategory(category string, accountID uint) (*Resolved, error) {
	key := fmt.Sprintf("%d/%s", accountID, category)
	s.mu.RLock()
	if r, ok := s.byCategory[key]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	var tpl models.PromptTemplate
	provenance := ProvenanceAccount
	err := s.st.DB().
		Where("category = ? AND active = ? AND account_id = ?", category, true, accountID).
		Order("id").First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		provenance = ProvenanceGlobal
		err = s.st.DB().
			Where("category = ? AND active = ? AND account_id IS NULL", category, true).
			Order("id").First(&tpl).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: category %s", ErrTemplateNotFound, category)
	}
	if err != nil {
		return nil, err
	}
	return s.finishResolve(tpl, provenance, key, accountID)
}

// Categories listet alle für den Mandanten sichtbaren aktiven Kategorien.
// Die kanonische Aufzählung ist die Template-Tabelle, keine Konstante.
func (s *Store) Categories(accountID uint) ([]string, error) {
	var cats []string
	err := s.st.DB().Model(&models.PromptTemplate{}).
		Where("active = ? AND (account_id = ? OR account_id IS NULL)", true, accountID).
		Distinct().Order("category").
		Pluck("category", &cats).Error
	return cats, err
}

// List liefert alle für den Mandanten sichtbaren Templates: eigene plus
// globale, die nicht von einem eigenen derselben Kategorie überdeckt sind.
func (s *Store) List(accountID uint) ([]models.PromptTemplate, error) {
	var own []models.PromptTemplate
	if err := s.st.DB().Where("account_id = ?", accountID).
		Order("category, id").Find(&own).Error; err != nil {
		return nil, err
	}
	covered := make(map[string]bool, len(own))
	for _, t := range own {
		covered[t.Category] = true
	}
	var global []models.PromptTemplate
	if err := s.st.DB().Where("account_id IS NULL").
		Order("category, id").Find(&global).Error; err != nil {
		return nil, err
	}
	out := own
	for _, t := range global {
		if !covered[t.Category] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Versions liefert die Versionshistorie eines Templates, neueste zuerst.
func (s *Store) Versions(id uint, accountID uint) ([]models.PromptVersion, error) {
	if _, err := s.Get(id, accountID); err != nil {
		return nil, err
	}
	var versions []models.PromptVersion
	err := s.st.DB().Where("prompt_template_id = ?", id).
		Order("version_number DESC").Find(&versions).Error
	return versions, err
}

// Delete entfernt ein Mandanten-Template samt Versionen.
func (s *Store) Delete(id uint, accountID uint) error {
	resolved, err := s.Get(id, accountID)
	if err != nil {
		return err
	}
	if resolved.Provenance == ProvenanceGlobal {
		return fmt.Errorf("templates: refusing to delete global template %d via tenant API", id)
	}
	err = s.st.InTransaction(func(tx *gorm.DB) error {
		if err := tx.Where("prompt_template_id = ?", id).
			Delete(&models.PromptVersion{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND account_id = ?", id, accountID).
			Delete(&models.PromptTemplate{}).Error
	})
	if err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

// finishResolve lädt die aktuelle Version und befüllt den Cache.
func (s *Store) finishResolve(tpl models.PromptTemplate, provenance, categoryKey string, accountID uint) (*Resolved, error) {
	var version models.PromptVersion
	err := s.st.DB().
		Where("prompt_template_id = ? AND is_current = ?", tpl.ID, true).
		First(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: template %d", ErrNoCurrentVersion, tpl.ID)
	}
	if err != nil {
		return nil, err
	}
	tpl.UIConfig = store.CoerceJSON(tpl.UIConfig)
	tpl.IOSchemas = store.CoerceJSON(tpl.IOSchemas)
	version.Parameters = store.CoerceJSON(version.Parameters)

	r := &Resolved{Template: tpl, Version: version, Provenance: provenance}
	s.mu.Lock()
	s.byID[cacheKey{accountID, tpl.ID}] = r
	if categoryKey != "" {
		s.byCategory[categoryKey] = r
	}
	s.mu.Unlock()
	return r, nil
}

// invalidate wirft alle Cache-Einträge zum Template weg, über alle
// Mandanten. Der Kategorie-Cache wird komplett geleert, weil ein
// Mandanten-Template ein globales derselben Kategorie überdecken kann.
func (s *Store) invalidate(id uint) {
	s.mu.Lock()
	for k := range s.byID {
		if k.id == id {
			delete(s.byID, k)
		}
	}
	s.byCategory = make(map[string]*Resolved)
	s.mu.Unlock()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
