package models

import "time"

// Status-Werte für GeneratedArticle.
const (
	GenStatusDraft         = "draft"
	GenStatusReviewPending = "review_pending"
	GenStatusApproved      = "approved"
	GenStatusPublished     = "published"
	GenStatusRejected      = "rejected"
)

// Content-Typen für GeneratedArticle.
const (
	ContentTypeBlog           = "blog"
	ContentTypePRArticle      = "pr_article"
	ContentTypeSocialPostLong = "social_post_long"
)

// GeneratedArticle repräsentiert einen generierten Langform-Artikel.
// Nachgelagerter Content (Social Posts, Video-Skripte, ...) referenziert
// diese Zeile über BasedOnGenArticleID.
type GeneratedArticle struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`

	BasedOnArticleID   *uint `json:"based_on_article_id,omitempty" gorm:"index"`
	BasedOnEvergreenID *uint `json:"based_on_evergreen_id,omitempty" gorm:"index"`

	Title          string `json:"title"`
	BodyDraft      string `json:"body_draft" gorm:"type:text"`
	BodyFinal      string `json:"body_final,omitempty" gorm:"type:text"`
	ContentType    string `json:"content_type" gorm:"index;default:'blog'"`
	WordCount      int    `json:"word_count"`
	Status         string `json:"status" gorm:"index;default:'draft'"`
	HeaderImageURL string `json:"header_image_url,omitempty"`

	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (GeneratedArticle) TableName() string {
	return "generated_articles"
}
