package models

import "time"

// LLMResponseLog ist das Append-only-Protokoll aller LLM-Aufrufe, eine
// Zeile pro Versuch, inklusive vollem Prompt und voller Antwort für
// Forensik. Wird nie aktualisiert oder gelöscht.
type LLMResponseLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`

	GenArticleID    *uint `json:"gen_article_id,omitempty" gorm:"index"`
	PromptVersionID *uint `json:"prompt_version_id,omitempty" gorm:"index"`

	Category string `json:"category" gorm:"index"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	Prompt     string `json:"prompt" gorm:"type:text"`
	Response   string `json:"response" gorm:"type:text"`
	StopReason string `json:"stop_reason"`

	IsComplete  bool `json:"is_complete"`
	IsTruncated bool `json:"is_truncated"`

	TokensIn        int     `json:"tokens_in"`
	TokensOut       int     `json:"tokens_out"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	Temperature     float64 `json:"temperature"`
}

// TableName gibt explizit den Tabellennamen an.
func (LLMResponseLog) TableName() string {
	return "llm_response_logs"
}
