package main

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"content-forge/jobs"
	"content-forge/models"
	"content-forge/store"
	"content-forge/templates"
)

// seedTemplate beschreibt ein globales Default-Template.
type seedTemplate struct {
	Name         string
	Category     string
	Prompt       string
	System       string
	OutputFields []string
}

var defaultTemplates = []seedTemplate{
	{
		Name:     "Blog-Artikel",
		Category: jobs.CategoryBlogArticle,
		System:   "Du bist ein erfahrener Redakteur. Schreibe klar, faktentreu und ohne Floskeln.",
		Prompt: `Schreibe einen Blog-Artikel auf Basis dieser Nachricht.

Titel: {{article.title}}
Zusammenfassung: {{article.summary}}
Volltext: {{article.body}}

Antworte mit JSON: {"title": "...", "content": "...", "teaser": "..."}`,
		OutputFields: []string{"title", "content", "teaser"},
	},
	{
		Name:     "Twitter-Post",
		Category: jobs.CategoryTwitterPost,
		Prompt: `Schreibe einen Twitter-Post (max. 280 Zeichen) zum folgenden Artikel.

{{generate_blog_article.content}}

Antworte mit JSON: {"post_text": "...", "hashtags": "..."}`,
		OutputFields: []string{"post_text", "hashtags"},
	},
	{
		Name:     "Facebook-Post",
		Category: jobs.CategoryFacebookPost,
		Prompt: `Schreibe einen Facebook-Post zum folgenden Artikel. Ton: nahbar, 2-3 Absätze.

{{generate_blog_article.content}}

Antworte mit JSON: {"post_text": "...", "hashtags": "..."}`,
		OutputFields: []string{"post_text", "hashtags"},
	},
	{
		Name:     "Instagram-Post",
		Category: jobs.CategoryInstagramPost,
		Prompt: `Schreibe eine Instagram-Caption zum folgenden Artikel, mit passenden Hashtags.

{{generate_blog_article.content}}

Antworte mit JSON: {"post_text": "...", "hashtags": "..."}`,
		OutputFields: []string{"post_text", "hashtags"},
	},
	{
		Name:     "LinkedIn-Post",
		Category: jobs.CategoryLinkedInPost,
		Prompt: `Schreibe einen LinkedIn-Post zum folgenden Artikel. Ton: professionell, mit Einordnung.

{{generate_blog_article.content}}

Antworte mit JSON: {"post_text": "...", "hashtags": "..."}`,
		OutputFields: []string{"post_text", "hashtags"},
	},
	{
		Name:     "Video-Skript 30s",
		Category: jobs.CategoryVideoScript30s,
		Prompt: `Schreibe ein 30-Sekunden-Video-Skript zum folgenden Artikel.

{{generate_blog_article.content}}

Antworte mit JSON: {"hook": "...", "script": "..."}`,
		OutputFields: []string{"hook", "script"},
	},
	{
		Name:     "Video-Skript 60s",
		Category: jobs.CategoryVideoScript60s,
		Prompt: `Schreibe ein 60-Sekunden-Video-Skript zum folgenden Artikel.

{{generate_blog_article.content}}

Antworte mit JSON: {"hook": "...", "script": "..."}`,
		OutputFields: []string{"hook", "script"},
	},
	{
		Name:     "Gebetspunkte",
		Category: jobs.CategoryPrayerPoints,
		Prompt: `Formuliere drei Gebetspunkte zum folgenden Artikel.

{{article.title}}

{{article.summary}}

Antworte mit JSON: {"points": "..."}`,
		OutputFields: []string{"points"},
	},
	{
		Name:     "News-Analyse",
		Category: jobs.CategoryNewsAnalysis,
		System:   "Du bist ein Nachrichten-Analyst. Antworte ausschließlich mit validem JSON.",
		Prompt: `Analysiere den folgenden Nachrichtenartikel. Bewerte die Relevanz für ein christliches Publikum zwischen 0.0 und 1.0.

Titel: {{article.title}}

Text: {{article.body}}

Antworte mit JSON: {"summary": "...", "keywords": ["..."], "relevanceScore": 0.0}`,
		OutputFields: []string{"summary", "keywords", "relevanceScore"},
	},
}

// seedDefaultTemplates legt die globalen Templates (account_id NULL) samt
// Version v1 an. Läuft nur auf leerer Tabelle.
func seedDefaultTemplates(st *store.Store, logger *zap.Logger) {
	var count int64
	st.DB().Model(&models.PromptTemplate{}).Count(&count)
	if count > 0 {
		return
	}

	err := st.InTransaction(func(tx *gorm.DB) error {
		for _, seed := range defaultTemplates {
			fields := make([]map[string]any, 0, len(seed.OutputFields))
			for _, f := range seed.OutputFields {
				fields = append(fields, map[string]any{"name": f})
			}
			ioSchemas, err := store.MarshalColumn(map[string]any{
				"output": map[string]any{"fields": fields},
			})
			if err != nil {
				return err
			}
			// Dieselben Variablen-Deskriptoren wie beim Anlegen über die API.
			vars, err := templates.ExtractVariables(seed.Prompt, nil)
			if err != nil {
				return err
			}
			uiConfig, err := store.MarshalColumn(map[string]any{"variables": vars})
			if err != nil {
				return err
			}
			tpl := models.PromptTemplate{
				Name:      seed.Name,
				Category:  seed.Category,
				Active:    true,
				UIConfig:  uiConfig,
				IOSchemas: ioSchemas,
			}
			if err := tx.Create(&tpl).Error; err != nil {
				return err
			}
			v1 := models.PromptVersion{
				PromptTemplateID: tpl.ID,
				VersionNumber:    1,
				Prompt:           seed.Prompt,
				SystemMessage:    seed.System,
				Notes:            "seed",
				IsCurrent:        true,
			}
			if err := tx.Create(&v1).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("Failed to seed default templates", zap.Error(err))
	} else {
		logger.Info("Default templates seeded.", zap.Int("count", len(defaultTemplates)))
	}
}

// seedDefaultWorkflow legt einen globalen Referenz-Workflow an, der die
// Seed-Templates in der Default-Reihenfolge verkettet. Mandanten ohne
// eigenen Workflow laufen ohnehin über den impliziten Default; dieser
// hier ist der sichtbare Startpunkt für eigene Varianten.
func seedDefaultWorkflow(st *store.Store, logger *zap.Logger) {
	var count int64
	st.DB().Model(&models.Workflow{}).Count(&count)
	if count > 0 {
		return
	}

	var tpls []models.PromptTemplate
	if err := st.DB().Where("account_id IS NULL").Find(&tpls).Error; err != nil {
		logger.Warn("Failed to load seed templates for workflow", zap.Error(err))
		return
	}
	byCategory := make(map[string]uint, len(tpls))
	for _, t := range tpls {
		byCategory[t.Category] = t.ID
	}

	order := []string{
		jobs.CategoryBlogArticle,
		jobs.CategoryTwitterPost,
		jobs.CategoryFacebookPost,
		jobs.CategoryInstagramPost,
		jobs.CategoryLinkedInPost,
		jobs.CategoryVideoScript30s,
		jobs.CategoryVideoScript60s,
		jobs.CategoryPrayerPoints,
	}
	var steps []models.WorkflowStep
	for i, category := range order {
		id, ok := byCategory[category]
		if !ok {
			continue
		}
		steps = append(steps, models.WorkflowStep{
			Name:       "generate_" + category,
			TemplateID: id,
			Order:      i,
		})
	}
	if len(steps) == 0 {
		return
	}

	wf := models.Workflow{
		Name:   "Voller Content-Zyklus",
		Active: true,
		Steps:  steps,
	}
	if err := st.DB().Create(&wf).Error; err != nil {
		logger.Warn("Failed to seed default workflow", zap.Error(err))
	} else {
		logger.Info("Default workflow seeded.", zap.Int("steps", len(steps)))
	}
}
