package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"content-forge/models"
	"content-forge/store"
	"content-forge/templates"
	"content-forge/workflow"
)

// defaultCategoryOrder ist der implizite Default-Workflow: ein Step pro
// Kategorie, Langform zuerst, damit nachgelagerte Steps per
// {{generate_blog.content}} darauf aufbauen können.
var defaultCategoryOrder = []string{
	CategoryBlogArticle,
	CategoryTwitterPost,
	CategoryFacebookPost,
	CategoryInstagramPost,
	CategoryLinkedInPost,
	CategoryVideoScript30s,
	CategoryVideoScript60s,
	CategoryPrayerPoints,
}

// runContentGeneration ist der Kern-Handler: Stories auswählen, Quality-
// Gate, Workflow pro Story, Dual-Write pro Step. Checkpoints liegen an
// den Story-Grenzen; eine begonnene Story wird immer zu Ende gebracht.
func (w *Worker) runContentGeneration(ctx context.Context, job *models.Job, payload Payload) (map[string]any, error) {
	settings := w.settingsFor(job.AccountID)

	stories, err := w.selectStories(job.AccountID, payload, settings)
	if err != nil {
		return nil, err
	}
	if len(stories) == 0 {
		return generationResults(nil, nil, nil), nil
	}

	var (
		processed    []uint
		skipped      []map[string]any
		storyResults []map[string]any
	)
	for i := range stories {
		story := &stories[i]
		if err := w.checkpoint(job); err != nil {
			return generationResults(processed, skipped, storyResults), err
		}
		w.queue.Progress(job.ID, 100*i/len(stories), fmt.Sprintf("Story %d/%d: %s", i+1, len(stories), story.Title))

		res, err := w.generateForStory(ctx, job.AccountID, story, settings)
		if err != nil {
			return generationResults(processed, skipped, storyResults), err
		}
		storyResults = append(storyResults, res)
		if res["skipped"] == true {
			skipped = append(skipped, map[string]any{
				"article_id": story.ID,
				"reason":     res["reason"],
			})
		} else {
			processed = append(processed, story.ID)
		}
	}
	return generationResults(processed, skipped, storyResults), nil
}

// generationResults: processed listet die Story-IDs, skipped ein
// {article_id, reason}-Paar pro abgewiesener Story.
func generationResults(processed []uint, skipped, stories []map[string]any) map[string]any {
	if processed == nil {
		processed = []uint{}
	}
	if skipped == nil {
		skipped = []map[string]any{}
	}
	if stories == nil {
		stories = []map[string]any{}
	}
	return map[string]any{"processed": processed, "skipped": skipped, "stories": stories}
}

// selectStories wählt die Stories des Laufs: entweder die explizit
// angeforderte oder die relevantesten analysierten.
func (w *Worker) selectStories(accountID uint, payload Payload, settings *models.AccountSettings) ([]models.NewsArticle, error) {
	if payload.SpecificStoryID != nil {
		var story models.NewsArticle
		if err := w.st.Tenant(accountID).First(&story, *payload.SpecificStoryID).Error; err != nil {
			return nil, fmt.Errorf("jobs: story %d not found: %w", *payload.SpecificStoryID, err)
		}
		return []models.NewsArticle{story}, nil
	}

	limit := settings.StoriesPerRun
	if limit <= 0 {
		limit = w.cfg.StoriesPerRun
	}
	var stories []models.NewsArticle
	err := w.st.Tenant(accountID).
		Where("status = ? AND relevance_score >= ?", models.ArticleStatusAnalyzed, settings.MinRelevanceScore).
		Order("relevance_score DESC, created_at ASC").
		Limit(limit).
		Find(&stories).Error
	return stories, err
}

// generateForStory führt Gate, Workflow und Persistenz für eine Story
// aus. Gibt pro Story ein Ergebnis fürs Job-Result zurück.
func (w *Worker) generateForStory(ctx context.Context, accountID uint, story *models.NewsArticle, settings *models.AccountSettings) (map[string]any, error) {
	gateRes := w.gate.Evaluate(story, settings)
	if err := w.persistGateResult(accountID, story, gateRes.Score, gateRes.Eligible, gateRes.Issues); err != nil {
		return nil, err
	}
	if !gateRes.Eligible {
		reason := "quality_gate"
		if len(gateRes.Issues) > 0 {
			reason = gateRes.Issues[0]
		}
		w.log.Info("Story am Quality-Gate abgewiesen",
			zap.Uint("article_id", story.ID),
			zap.Float64("score", gateRes.Score),
			zap.Strings("issues", gateRes.Issues))
		return map[string]any{
			"article_id": story.ID,
			"skipped":    true,
			"reason":     reason,
			"issues":     gateRes.Issues,
		}, nil
	}

	genArticle := models.GeneratedArticle{
		AccountID:        accountID,
		BasedOnArticleID: &story.ID,
		Title:            story.Title,
		ContentType:      models.ContentTypeBlog,
		Status:           models.GenStatusDraft,
	}
	if err := w.st.DB().Create(&genArticle).Error; err != nil {
		return nil, err
	}

	inputs := map[string]any{
		"article": map[string]any{
			"id":      story.ID,
			"title":   story.Title,
			"body":    story.Body,
			"summary": story.Summary,
			"url":     story.URL,
		},
		"blog": map[string]any{
			"id":    genArticle.ID,
			"title": genArticle.Title,
		},
		"account": map[string]any{"id": accountID},
	}

	run, err := w.runWorkflow(ctx, accountID, settings, inputs, &genArticle.ID)
	if err != nil {
		return nil, fmt.Errorf("jobs: workflow for article %d: %w", story.ID, err)
	}

	var outcomes []WriteOutcome
	for _, step := range orderedRecords(run) {
		if step.Error != "" || step.Output == nil {
			continue
		}
		outcome, err := w.writer.WriteStep(accountID, genArticle.ID, step.Metadata.Category, step.Output)
		if err != nil {
			return nil, fmt.Errorf("jobs: persist step %q: %w", step.StepName, err)
		}
		outcomes = append(outcomes, *outcome)
	}

	if err := w.st.DB().Model(&models.GeneratedArticle{}).
		Where("id = ?", genArticle.ID).
		Update("status", models.GenStatusReviewPending).Error; err != nil {
		return nil, err
	}
	if err := w.st.DB().Model(&models.NewsArticle{}).
		Where("id = ?", story.ID).
		Update("status", models.ArticleStatusProcessed).Error; err != nil {
		return nil, err
	}

	return map[string]any{
		"article_id":     story.ID,
		"gen_article_id": genArticle.ID,
		"workflow_id":    run.WorkflowID,
		"steps":          len(run.Results),
		"written":        outcomes,
	}, nil
}

func (w *Worker) persistGateResult(accountID uint, story *models.NewsArticle, score float64, eligible bool, issues []string) error {
	raw, err := store.MarshalColumn(issues)
	if err != nil {
		return err
	}
	return w.st.DB().Model(&models.NewsArticle{}).
		Where("id = ? AND account_id = ?", story.ID, accountID).
		Updates(map[string]any{
			"quality_score":    score,
			"quality_eligible": eligible,
			"quality_issues":   raw,
		}).Error
}

// runWorkflow nutzt den konfigurierten Workflow des Mandanten oder baut
// den impliziten Default aus den aktuell aufgelösten Templates.
func (w *Worker) runWorkflow(ctx context.Context, accountID uint, settings *models.AccountSettings, inputs map[string]any, genArticleID *uint) (*workflow.RunResult, error) {
	if settings.WorkflowID != nil {
		return w.runner.Run(ctx, *settings.WorkflowID, inputs, accountID, genArticleID)
	}
	wf, err := w.defaultWorkflow(accountID)
	if err != nil {
		return nil, err
	}
	return w.runner.RunDefinition(ctx, wf, inputs, accountID, genArticleID)
}

// defaultWorkflow baut pro auflösbarer Kategorie einen Step. Fehlende
// Templates werden übersprungen; ganz ohne Templates ist der Lauf ein
// Fehler, kein leerer Erfolg.
func (w *Worker) defaultWorkflow(accountID uint) (*models.Workflow, error) {
	var steps []models.WorkflowStep
	for i, category := range defaultCategoryOrder {
		resolved, err := w.tpls.CurrentByCategory(category, accountID)
		if errors.Is(err, templates.ErrTemplateNotFound) || errors.Is(err, templates.ErrNoCurrentVersion) {
			continue
		}
		if err != nil {
			return nil, err
		}
		steps = append(steps, models.WorkflowStep{
			Name:       "generate_" + category,
			TemplateID: resolved.Template.ID,
			Order:      i,
		})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("jobs: no templates resolvable for account %d", accountID)
	}
	return &models.Workflow{Name: "default", Steps: steps}, nil
}

// orderedRecords liefert die Step-Records in Ausführungsreihenfolge
// (Map-Iteration ist unsortiert).
func orderedRecords(run *workflow.RunResult) []workflow.StepRecord {
	records := make([]workflow.StepRecord, 0, len(run.Results))
	for _, rec := range run.Results {
		records = append(records, rec)
	}
	// ExecutedAt ist monoton, weil Steps strikt sequenziell laufen.
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].Metadata.ExecutedAt.Before(records[j-1].Metadata.ExecutedAt); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
	return records
}
