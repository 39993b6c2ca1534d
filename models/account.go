package models

import "time"

// Account repräsentiert einen Mandanten. Wird extern angelegt; der Kern
// liest nur. Jede inhaltstragende Zeile trägt eine gültige AccountID.
type Account struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	OrganizationID string    `json:"organization_id,omitempty" gorm:"index"`
	Name           string    `json:"name" gorm:"not null"`
	Active         bool      `json:"active" gorm:"default:true;index"`
}

// TableName gibt explizit den Tabellennamen an.
func (Account) TableName() string {
	return "accounts"
}

// AccountSettings bündelt mandantenspezifische Regeln für Quality-Gate,
// Content-Generierung und LLM-Provider-Auswahl.
type AccountSettings struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uint      `json:"account_id" gorm:"uniqueIndex;not null"`

	// Quality-Gate Regeln
	MinContentLength int     `json:"min_content_length" gorm:"default:200"`
	MinQualityScore  float64 `json:"min_quality_score" gorm:"default:0.4"`
	BlockTitleOnly   bool    `json:"block_title_only" gorm:"default:true"`
	BlockNoContent   bool    `json:"block_no_content" gorm:"default:true"`

	// Content-Generierung
	MinRelevanceScore float64 `json:"min_relevance_score" gorm:"default:0.5"`
	StoriesPerRun     int     `json:"stories_per_run" gorm:"default:3"`
	WorkflowID        *uint   `json:"workflow_id,omitempty"` // nil = impliziter Default-Workflow

	// LLM
	DefaultProvider string `json:"default_provider,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (AccountSettings) TableName() string {
	return "account_settings"
}
