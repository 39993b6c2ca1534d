package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Worker & Jobs
	MaxConcurrentJobs    int    `envconfig:"MAX_CONCURRENT_JOBS" default:"1"`
	WorkerPollIntervalMS int    `envconfig:"WORKER_POLL_INTERVAL_MS" default:"500"`
	JobTimeoutSeconds    int    `envconfig:"JOB_TIMEOUT_SECONDS" default:"1800"`
	CronSchedule         string `envconfig:"CRON_SCHEDULE" default:"0 6 * * *"`
	CronEnabled          bool   `envconfig:"CRON_ENABLED" default:"false"`

	// Dual-Write Migrationsschalter
	EnableDualWrite  bool `envconfig:"ENABLE_DUAL_WRITE" default:"true"`
	PrioritizeModern bool `envconfig:"PRIORITIZE_MODERN" default:"false"`

	// LLM-Provider
	LLMProvider       string  `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMTimeoutSeconds int     `envconfig:"LLM_TIMEOUT_SECONDS" default:"60"`
	LLMMaxRetries     int     `envconfig:"LLM_MAX_RETRIES" default:"2"`
	OpenAIAPIKey      string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com"`
	OpenAIModel       string  `envconfig:"OPENAI_MODEL" default:"gpt-4o"`
	LLMTemperature    float64 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	LLMMaxTokens      int     `envconfig:"LLM_MAX_TOKENS" default:"4096"`

	// Content-Generierung
	MinRelevanceScore float64 `envconfig:"MIN_RELEVANCE_SCORE" default:"0.5"`
	StoriesPerRun     int     `envconfig:"STORIES_PER_RUN" default:"3"`
	AnalysisBatchSize int     `envconfig:"ANALYSIS_BATCH_SIZE" default:"10"`

	// S3 für CDN-Bilder und Backups
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Bucket string `envconfig:"S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// LLMTimeout gibt die per-Attempt-Deadline für LLM-Aufrufe zurück.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// JobTimeout gibt das Wall-Clock-Budget für einen einzelnen Job zurück.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// PollInterval gibt die Wartezeit des Workers bei leerer Queue zurück.
// Mindestens 500ms, damit die Queue-Abfrage die DB nicht flutet.
func (c *Config) PollInterval() time.Duration {
	d := time.Duration(c.WorkerPollIntervalMS) * time.Millisecond
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	return d
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
