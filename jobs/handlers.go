package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"content-forge/llm"
	"content-forge/models"
	"content-forge/store"
	"content-forge/templates"
)

// CategoryNewsAnalysis ist die Template-Kategorie der AI-Analyse.
const CategoryNewsAnalysis = "news_analysis"

// analysisFallbackPrompt greift, wenn kein news_analysis-Template
// existiert. Die Antwort muss dem gleichen JSON-Schema folgen.
const analysisFallbackPrompt = `Analysiere den folgenden Nachrichtenartikel und antworte ausschließlich mit JSON im Format {"summary": "...", "keywords": ["..."], "relevanceScore": 0.0}.

Titel: {{article.title}}

Text: {{article.body}}`

// runNewsAggregation sammelt Quellartikel ein. Idempotent über die
// URL-Unique-Constraint: bereits bekannte URLs werden gezählt, nicht
// dupliziert.
func (w *Worker) runNewsAggregation(ctx context.Context, job *models.Job, payload Payload) (map[string]any, error) {
	limit := payload.Limit
	if limit <= 0 {
		limit = 50
	}
	w.queue.Progress(job.ID, 5, "Quellen werden abgerufen")

	fetched, err := w.scraper.Fetch(ctx, payload.SourceRefs, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs: scrape failed: %w", err)
	}

	inserted, skipped := 0, 0
	for i, art := range fetched {
		if err := w.checkpoint(job); err != nil {
			return aggregationResults(len(fetched), inserted, skipped), err
		}
		row := models.NewsArticle{
			AccountID:   job.AccountID,
			SourceRef:   art.SourceRef,
			Title:       art.Title,
			URL:         art.URL,
			Body:        art.Body,
			Status:      models.ArticleStatusScraped,
			PublishedAt: art.PublishedAt,
		}
		res := w.st.DB().Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			inserted++
		} else {
			skipped++
		}
		w.queue.Progress(job.ID, 5+90*(i+1)/len(fetched), fmt.Sprintf("%d/%d Artikel verarbeitet", i+1, len(fetched)))
	}

	w.log.Info("Aggregation abgeschlossen",
		zap.Uint("job_id", job.ID),
		zap.Int("fetched", len(fetched)),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped))
	return aggregationResults(len(fetched), inserted, skipped), nil
}

func aggregationResults(fetched, inserted, skipped int) map[string]any {
	return map[string]any{"fetched": fetched, "inserted": inserted, "skipped": skipped}
}

// runAIAnalysis fasst frisch gescrapte Artikel zusammen, extrahiert
// Keywords und vergibt einen Relevanz-Score. Jeder Artikel wird in einer
// eigenen Transaktion aktualisiert; ein kaputter Artikel reißt den Batch
// nicht mit.
func (w *Worker) runAIAnalysis(ctx context.Context, job *models.Job, payload Payload) (map[string]any, error) {
	limit := payload.Limit
	if limit <= 0 {
		limit = w.cfg.AnalysisBatchSize
	}

	var articles []models.NewsArticle
	if err := w.st.Tenant(job.AccountID).
		Where("status = ?", models.ArticleStatusScraped).
		Order("created_at ASC").
		Limit(limit).
		Find(&articles).Error; err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return map[string]any{"analyzed": 0, "failed": 0}, nil
	}

	prompt, system, versionID := w.analysisTemplate(job.AccountID)

	analyzed, failed := 0, 0
	for i := range articles {
		art := &articles[i]
		if err := w.checkpoint(job); err != nil {
			return map[string]any{"analyzed": analyzed, "failed": failed}, err
		}
		w.queue.Progress(job.ID, 100*i/len(articles), fmt.Sprintf("Analysiere Artikel %d/%d", i+1, len(articles)))

		if err := w.analyzeOne(ctx, job.AccountID, art, prompt, system, versionID); err != nil {
			w.log.Warn("Analyse eines Artikels fehlgeschlagen",
				zap.Uint("article_id", art.ID), zap.Error(err))
			failed++
			continue
		}
		analyzed++
	}
	return map[string]any{"analyzed": analyzed, "failed": failed}, nil
}

// analysisTemplate löst das news_analysis-Template auf; ohne Template
// greift der eingebaute Prompt.
func (w *Worker) analysisTemplate(accountID uint) (prompt, system string, versionID *uint) {
	resolved, err := w.tpls.CurrentByCategory(CategoryNewsAnalysis, accountID)
	if err != nil {
		if !errors.Is(err, templates.ErrTemplateNotFound) && !errors.Is(err, templates.ErrNoCurrentVersion) {
			w.log.Warn("Analyse-Template nicht auflösbar, nutze Fallback", zap.Error(err))
		}
		return analysisFallbackPrompt, "", nil
	}
	id := resolved.Version.ID
	return resolved.Version.Prompt, resolved.Version.SystemMessage, &id
}

func (w *Worker) analyzeOne(ctx context.Context, accountID uint, art *models.NewsArticle, promptTpl, systemTpl string, versionID *uint) error {
	vars := map[string]any{
		"article.id":    art.ID,
		"article.title": art.Title,
		"article.body":  art.Body,
		"article.url":   art.URL,
	}
	prompt, _ := templates.Substitute(promptTpl, vars)
	system, _ := templates.Substitute(systemTpl, vars)

	gen, err := w.gateway.Generate(ctx, llm.GenerateInput{
		Category:        CategoryNewsAnalysis,
		Prompt:          prompt,
		System:          system,
		AccountID:       accountID,
		PromptVersionID: versionID,
	})
	if err != nil {
		return err
	}

	var analysis struct {
		Summary        string   `json:"summary"`
		Keywords       []string `json:"keywords"`
		RelevanceScore float64  `json:"relevanceScore"`
	}
	if err := json.Unmarshal([]byte(llm.StripFence(gen.Text)), &analysis); err != nil {
		return fmt.Errorf("unparseable analysis response: %w", err)
	}
	if analysis.RelevanceScore < 0 {
		analysis.RelevanceScore = 0
	}
	if analysis.RelevanceScore > 1 {
		analysis.RelevanceScore = 1
	}
	keywords, err := store.MarshalColumn(analysis.Keywords)
	if err != nil {
		return err
	}

	return w.st.InTransaction(func(tx *gorm.DB) error {
		return tx.Model(&models.NewsArticle{}).
			Where("id = ? AND account_id = ?", art.ID, accountID).
			Updates(map[string]any{
				"summary":         analysis.Summary,
				"keywords":        keywords,
				"relevance_score": analysis.RelevanceScore,
				"status":          models.ArticleStatusAnalyzed,
			}).Error
	})
}

// runFullCycle fährt die drei Phasen sequenziell: Aggregation, Analyse,
// Generierung. Zwischen den Phasen liegt ein Stornierungs-Checkpoint.
func (w *Worker) runFullCycle(ctx context.Context, job *models.Job, payload Payload) (map[string]any, error) {
	results := make(map[string]any, 3)

	w.queue.Progress(job.ID, 0, "Phase 1/3: Aggregation")
	agg, err := w.runNewsAggregation(ctx, job, payload)
	results["aggregation"] = agg
	if err != nil {
		return results, err
	}

	if err := w.checkpoint(job); err != nil {
		return results, err
	}
	w.queue.Progress(job.ID, 33, "Phase 2/3: AI-Analyse")
	analysis, err := w.runAIAnalysis(ctx, job, payload)
	results["analysis"] = analysis
	if err != nil {
		return results, err
	}

	if err := w.checkpoint(job); err != nil {
		return results, err
	}
	w.queue.Progress(job.ID, 66, "Phase 3/3: Content-Generierung")
	generation, err := w.runContentGeneration(ctx, job, payload)
	results["generation"] = generation
	if err != nil {
		return results, err
	}

	return results, nil
}
