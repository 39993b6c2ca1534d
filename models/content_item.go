package models

import (
	"time"

	"gorm.io/datatypes"
)

// ContentItem ist die moderne generische Content-Tabelle. Sie ersetzt
// perspektivisch alle Legacy-Typ-Tabellen; bis zum Cutover wird dual
// geschrieben (siehe jobs/dualwrite.go).
type ContentItem struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`

	BasedOnGenArticleID uint           `json:"based_on_gen_article_id" gorm:"index;not null"`
	PromptCategory      string         `json:"prompt_category" gorm:"index;not null"`
	ContentData         datatypes.JSON `json:"content_data" gorm:"type:jsonb"`
	Metadata            datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`
	Status              string         `json:"status" gorm:"index;default:'review_pending'"`
}

// TableName gibt explizit den Tabellennamen an.
func (ContentItem) TableName() string {
	return "content_items"
}
