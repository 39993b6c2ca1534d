package models

import (
	"time"

	"gorm.io/datatypes"
)

// Status-Werte für NewsArticle. Der Status schreitet monoton voran:
// scraped -> analyzed -> processed.
const (
	ArticleStatusScraped   = "scraped"
	ArticleStatusAnalyzed  = "analyzed"
	ArticleStatusProcessed = "processed"
)

// NewsArticle repräsentiert einen vom Scraper eingesammelten Quellartikel.
type NewsArticle struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`

	SourceRef string `json:"source_ref,omitempty" gorm:"index"`
	Title     string `json:"title"`
	URL       string `json:"url" gorm:"uniqueIndex;not null"`
	Body      string `json:"body" gorm:"type:text"`

	// AI-Analyse
	Summary        string         `json:"summary,omitempty" gorm:"type:text"`
	Keywords       datatypes.JSON `json:"keywords,omitempty" gorm:"type:jsonb"`
	RelevanceScore float64        `json:"relevance_score" gorm:"index"`

	// Quality-Gate Ergebnis
	QualityScore    float64        `json:"quality_score"`
	QualityEligible bool           `json:"quality_eligible"`
	QualityIssues   datatypes.JSON `json:"quality_issues,omitempty" gorm:"type:jsonb"`

	Status      string     `json:"status" gorm:"index;default:'scraped'"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (NewsArticle) TableName() string {
	return "news_articles"
}
