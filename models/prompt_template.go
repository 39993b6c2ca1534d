package models

import (
	"time"

	"gorm.io/datatypes"
)

// PromptTemplate ist ein benannter, kategorisierter Prompt mit Versionen.
// AccountID nil bedeutet globales Template; Mandanten-Templates überdecken
// globale derselben Kategorie.
type PromptTemplate struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID *uint     `json:"account_id,omitempty" gorm:"index"`

	Name     string `json:"name" gorm:"not null"`
	Category string `json:"category" gorm:"index;not null"`
	Active   bool   `json:"active" gorm:"default:true;index"`

	UIConfig  datatypes.JSON `json:"ui_config,omitempty" gorm:"type:jsonb"`
	IOSchemas datatypes.JSON `json:"io_schemas,omitempty" gorm:"type:jsonb"`

	// Versionen gehören dem Template (Cascade-Delete).
	Versions []PromptVersion `json:"versions,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// TableName gibt explizit den Tabellennamen an.
func (PromptTemplate) TableName() string {
	return "prompt_templates"
}

// PromptVersion ist eine unveränderliche Version eines Templates.
// Invariante: genau eine Version pro Template hat IsCurrent=true;
// das Flag wandert transaktional (siehe templates.SetCurrentVersion).
type PromptVersion struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	CreatedAt        time.Time `json:"created_at"`
	PromptTemplateID uint      `json:"prompt_template_id" gorm:"index;not null"`

	VersionNumber int            `json:"version_number" gorm:"not null"`
	Prompt        string         `json:"prompt" gorm:"type:text;not null"`
	SystemMessage string         `json:"system_message,omitempty" gorm:"type:text"`
	Parameters    datatypes.JSON `json:"parameters,omitempty" gorm:"type:jsonb"`
	Notes         string         `json:"notes,omitempty"`
	IsCurrent     bool           `json:"is_current" gorm:"index;default:false"`
}

// TableName gibt explizit den Tabellennamen an.
func (PromptVersion) TableName() string {
	return "prompt_versions"
}
