package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"content-forge/config"
	"content-forge/jobs"
	"content-forge/llm"
	"content-forge/models"
	"content-forge/quality"
	"content-forge/scraper"
	"content-forge/storage"
	"content-forge/store"
	"content-forge/templates"
	"content-forge/workflow"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// accountIDFrom liest die Mandanten-Identität aus Header oder Query.
// Jeder inhaltstragende Endpunkt braucht sie.
func accountIDFrom(c *gin.Context) (uint, bool) {
	raw := c.GetHeader("X-Account-ID")
	if raw == "" {
		raw = c.Query("account_id")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func abortNoAccount(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "account_id required (X-Account-ID header or account_id query)"})
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(
		&models.Account{},
		&models.AccountSettings{},
		&models.NewsArticle{},
		&models.GeneratedArticle{},
		&models.SocialPost{},
		&models.VideoScript{},
		&models.PrayerPoint{},
		&models.ContentItem{},
		&models.PromptTemplate{},
		&models.PromptVersion{},
		&models.Workflow{},
		&models.Job{},
		&models.LLMResponseLog{},
	); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	st := store.New(db)

	// Seeding: globale Default-Templates und -Workflow
	seedDefaultTemplates(st, logging)
	seedDefaultWorkflow(st, logging)

	// Setup Services
	tplStore := templates.NewStore(st, logging)
	providers := buildProviders(cfg, logging)
	gateway := llm.NewGateway(cfg, st, logging, providers...)
	gate := quality.NewGate(logging)
	runner := workflow.NewRunner(st, tplStore, gateway, logging)
	writer := jobs.NewContentWriter(cfg, st, logging)
	queue := jobs.NewQueue(st, logging)
	htmlScraper := scraper.NewHTMLProvider(nil, nil, logging)

	var s3Client *s3.Client
	if cfg.S3Bucket != "" {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3-Client konnte nicht erstellt werden", zap.Error(err))
		}
	} else {
		logging.Warn("Kein S3_BUCKET gesetzt, Asset-Uploads deaktiviert")
	}

	// Crash-Restart: abgestandene processing-Jobs vor dem ersten Claim
	// aufräumen. Frische Zeilen laufender Instanzen bleiben unangetastet.
	if err := queue.RecoverOrphans("", cfg.JobTimeout()); err != nil {
		logging.Error("Orphan-Recovery fehlgeschlagen", zap.Error(err))
	}

	// Worker starten
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers := cfg.MaxConcurrentJobs
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w := jobs.NewWorker(cfg, st, queue, runner, tplStore, gateway, gate, writer, htmlScraper, logging)
		go w.Start(workerCtx)
	}
	logging.Info("Worker gestartet", zap.Int("count", workers))

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": "ok"}})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", apiKeyAuthMiddleware(cfg))
	setupJobRoutes(api, queue, logging)
	setupTemplateRoutes(api, tplStore, gateway, logging)
	setupWorkflowRoutes(api, st, runner, tplStore, logging)
	setupContentRoutes(api, st, cfg, s3Client, logging)

	// Setup Cron: der tägliche Full-Cycle pro aktivem Mandanten
	if cfg.CronEnabled {
		cronScheduler := cron.New()
		cronScheduler.AddFunc(cfg.CronSchedule, func() {
			logging.Info("Running scheduled full cycle...")
			enqueueFullCycles(st, queue, logging)
		})
		cronScheduler.Start()
		logging.Info("Cron aktiviert", zap.String("schedule", cfg.CronSchedule))
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// buildProviders registriert die konfigurierten LLM-Provider. Der Mock
// ist immer dabei, damit lokale Umgebungen ohne Key laufen.
func buildProviders(cfg *config.Config, logging *zap.Logger) []llm.Provider {
	providers := []llm.Provider{llm.NewMockProvider()}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, llm.NewOpenAIProvider(cfg, logging))
	} else {
		logging.Warn("Kein OPENAI_API_KEY gesetzt, nur Mock-Provider verfügbar")
	}
	return providers
}

// enqueueFullCycles reiht pro aktivem Mandanten einen full_cycle-Job ein.
func enqueueFullCycles(st *store.Store, queue *jobs.Queue, logging *zap.Logger) {
	var accounts []models.Account
	if err := st.DB().Where("active = ?", true).Find(&accounts).Error; err != nil {
		logging.Error("Cron: Mandanten nicht ladbar", zap.Error(err))
		return
	}
	for _, acc := range accounts {
		if _, err := queue.Enqueue(models.JobTypeFullCycle, jobs.Payload{}, 0, "cron", acc.ID); err != nil {
			logging.Error("Cron: Enqueue fehlgeschlagen", zap.Uint("account_id", acc.ID), zap.Error(err))
		}
	}
	logging.Info("Cron: Full-Cycle-Jobs eingereiht", zap.Int("accounts", len(accounts)))
}
