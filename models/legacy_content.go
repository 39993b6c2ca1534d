package models

import "time"

// Die Legacy-Tabellen existieren pro Content-Typ. Sie sind eine
// Migrationsbrücke: nach dem Cutover wird content_items die einzige
// Quelle der Wahrheit und diese Tabellen werden Read-only-Projektionen.

// SocialPost ist ein plattformspezifischer Social-Media-Post (Legacy).
type SocialPost struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`

	BasedOnGenArticleID uint   `json:"based_on_gen_article_id" gorm:"index;not null"`
	Platform            string `json:"platform" gorm:"index;not null"` // twitter, facebook, instagram, linkedin
	PostText            string `json:"post_text" gorm:"type:text"`
	Hashtags            string `json:"hashtags,omitempty"`
	Status              string `json:"status" gorm:"index;default:'review_pending'"`
}

// TableName gibt explizit den Tabellennamen an.
func (SocialPost) TableName() string {
	return "social_posts"
}

// VideoScript ist ein Video-Skript einer bestimmten Länge (Legacy).
type VideoScript struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`

	BasedOnGenArticleID uint   `json:"based_on_gen_article_id" gorm:"index;not null"`
	DurationSeconds     int    `json:"duration_seconds" gorm:"index"`
	Script              string `json:"script" gorm:"type:text"`
	Hook                string `json:"hook,omitempty" gorm:"type:text"`
	Status              string `json:"status" gorm:"index;default:'review_pending'"`
}

// TableName gibt explizit den Tabellennamen an.
func (VideoScript) TableName() string {
	return "video_scripts"
}

// PrayerPoint ist ein generierter Gebetspunkt zu einem Artikel (Legacy).
type PrayerPoint struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`

	BasedOnGenArticleID uint   `json:"based_on_gen_article_id" gorm:"index;not null"`
	Text                string `json:"text" gorm:"type:text"`
	Status              string `json:"status" gorm:"index;default:'review_pending'"`
}

// TableName gibt explizit den Tabellennamen an.
func (PrayerPoint) TableName() string {
	return "prayer_points"
}
