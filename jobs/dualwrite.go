package jobs

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"content-forge/config"
	"content-forge/models"
	"content-forge/store"
)

// Prompt-Kategorien, die der Writer routen kann. Unbekannte Kategorien
// landen nur in content_items.
const (
	CategoryBlogArticle    = "blog_article"
	CategoryTwitterPost    = "social_post_twitter"
	CategoryFacebookPost   = "social_post_facebook"
	CategoryInstagramPost  = "social_post_instagram"
	CategoryLinkedInPost   = "social_post_linkedin"
	CategoryVideoScript30s = "video_script_30s"
	CategoryVideoScript60s = "video_script_60s"
	CategoryPrayerPoints   = "prayer_points"
)

// WriteOutcome beschreibt, wo ein Step-Output gelandet ist. Wird in die
// content_items-Metadata und ins Job-Result übernommen.
type WriteOutcome struct {
	Category  string `json:"category"`
	LegacyID  *uint  `json:"legacy_id,omitempty"`
	ModernID  *uint  `json:"modern_id,omitempty"`
	DualWrite bool   `json:"dualWrite"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// ContentWriter ist die Dual-Write-Kompatibilitätsschicht: Legacy-Typ-
// Tabelle und content_items in EINER Transaktion. Schlägt die Transaktion
// fehl, wird legacy-only geschrieben und das Ergebnis als Fallback
// markiert, damit die Generierung nicht an der Migrationstabelle stirbt.
type ContentWriter struct {
	cfg *config.Config
	st  *store.Store
	log *zap.Logger
}

// NewContentWriter erstellt den Dual-Write-Layer.
func NewContentWriter(cfg *config.Config, st *store.Store, log *zap.Logger) *ContentWriter {
	return &ContentWriter{cfg: cfg, st: st, log: log}
}

// WriteStep persistiert den Output eines Workflow-Steps für den gegebenen
// Langform-Artikel. category bestimmt das Routing in die Legacy-Tabellen.
func (w *ContentWriter) WriteStep(accountID, genArticleID uint, category string, output map[string]any) (*WriteOutcome, error) {
	if !w.cfg.EnableDualWrite {
		return w.writeLegacyOnly(accountID, genArticleID, category, output, false)
	}

	outcome := &WriteOutcome{Category: category, DualWrite: true}
	err := w.st.InTransaction(func(tx *gorm.DB) error {
		legacyID, err := w.writeLegacy(tx, accountID, genArticleID, category, output)
		if err != nil {
			return err
		}
		outcome.LegacyID = legacyID

		modernID, err := w.writeModern(tx, accountID, genArticleID, category, output, legacyID, true, false)
		if err != nil {
			return err
		}
		outcome.ModernID = modernID
		return nil
	})
	if err == nil {
		return outcome, nil
	}

	// Die Transaktion ist vollständig zurückgerollt; der Legacy-Pfad ist
	// der bewährte und bekommt einen eigenen Versuch.
	w.log.Error("Dual-Write fehlgeschlagen, Fallback auf Legacy-only",
		zap.Uint("gen_article_id", genArticleID),
		zap.String("category", category),
		zap.Error(err))
	return w.writeLegacyOnly(accountID, genArticleID, category, output, true)
}

func (w *ContentWriter) writeLegacyOnly(accountID, genArticleID uint, category string, output map[string]any, fallback bool) (*WriteOutcome, error) {
	outcome := &WriteOutcome{Category: category, DualWrite: false, Fallback: fallback}
	legacyID, err := w.writeLegacy(w.st.DB(), accountID, genArticleID, category, output)
	if err != nil {
		return nil, err
	}
	outcome.LegacyID = legacyID
	return outcome, nil
}

// writeLegacy routet in die typisierte Tabelle. Gibt die Legacy-ID zurück,
// nil wenn die Kategorie keine Legacy-Heimat hat.
func (w *ContentWriter) writeLegacy(tx *gorm.DB, accountID, genArticleID uint, category string, output map[string]any) (*uint, error) {
	switch category {
	case CategoryBlogArticle:
		// Langform aktualisiert den Artikel selbst; die Legacy-ID ist
		// die Artikel-Zeile.
		body := outputText(output, "content", "body", "text")
		updates := map[string]any{
			"body_draft": body,
			"word_count": len(strings.Fields(body)),
		}
		if title := outputText(output, "title", "headline"); title != "" {
			updates["title"] = title
		}
		if err := tx.Model(&models.GeneratedArticle{}).
			Where("id = ? AND account_id = ?", genArticleID, accountID).
			Updates(updates).Error; err != nil {
			return nil, err
		}
		id := genArticleID
		return &id, nil

	case CategoryTwitterPost, CategoryFacebookPost, CategoryInstagramPost, CategoryLinkedInPost:
		post := models.SocialPost{
			AccountID:           accountID,
			BasedOnGenArticleID: genArticleID,
			Platform:            strings.TrimPrefix(category, "social_post_"),
			PostText:            outputText(output, "post_text", "content", "text"),
			Hashtags:            outputText(output, "hashtags"),
			Status:              models.GenStatusReviewPending,
		}
		if err := tx.Create(&post).Error; err != nil {
			return nil, err
		}
		return &post.ID, nil

	case CategoryVideoScript30s, CategoryVideoScript60s:
		duration := 30
		if category == CategoryVideoScript60s {
			duration = 60
		}
		script := models.VideoScript{
			AccountID:           accountID,
			BasedOnGenArticleID: genArticleID,
			DurationSeconds:     duration,
			Script:              outputText(output, "script", "content", "text"),
			Hook:                outputText(output, "hook"),
			Status:              models.GenStatusReviewPending,
		}
		if err := tx.Create(&script).Error; err != nil {
			return nil, err
		}
		return &script.ID, nil

	case CategoryPrayerPoints:
		point := models.PrayerPoint{
			AccountID:           accountID,
			BasedOnGenArticleID: genArticleID,
			Text:                outputText(output, "points", "content", "text"),
			Status:              models.GenStatusReviewPending,
		}
		if err := tx.Create(&point).Error; err != nil {
			return nil, err
		}
		return &point.ID, nil
	}
	return nil, nil
}

// writeModern schreibt die generische content_items-Zeile inklusive
// Migrations-Metadata (legacy_ids, dualWrite/fallback-Flags).
func (w *ContentWriter) writeModern(tx *gorm.DB, accountID, genArticleID uint, category string, output map[string]any, legacyID *uint, dualWrite, fallback bool) (*uint, error) {
	data, err := store.MarshalColumn(output)
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal content_data: %w", err)
	}
	meta := map[string]any{"dualWrite": dualWrite}
	if legacyID != nil {
		meta["legacy_ids"] = []uint{*legacyID}
	}
	if fallback {
		meta["fallback"] = true
	}
	rawMeta, err := store.MarshalColumn(meta)
	if err != nil {
		return nil, err
	}
	item := models.ContentItem{
		AccountID:           accountID,
		BasedOnGenArticleID: genArticleID,
		PromptCategory:      category,
		ContentData:         data,
		Metadata:            rawMeta,
		Status:              models.GenStatusReviewPending,
	}
	if err := tx.Create(&item).Error; err != nil {
		return nil, err
	}
	return &item.ID, nil
}

// outputText sucht das erste gesetzte String-Feld; Nicht-Strings werden
// über fmt serialisiert, damit strukturierte Outputs nicht verloren gehen.
func outputText(output map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := output[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if strings.TrimSpace(s) != "" {
				return s
			}
			continue
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
