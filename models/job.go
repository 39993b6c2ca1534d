package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job-Typen.
const (
	JobTypeContentGeneration = "content_generation"
	JobTypeFullCycle         = "full_cycle"
	JobTypeNewsAggregation   = "news_aggregation"
	JobTypeAIAnalysis        = "ai_analysis"
)

// Job-Status. Lebenszyklus: queued -> processing -> (completed | failed |
// cancelled). failed mit RetryCount < MaxRetries ist re-queuebar.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Job ist eine durable Arbeitseinheit des Workers.
type Job struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
	AccountID uint      `json:"account_id" gorm:"index;not null"`

	Type     string `json:"type" gorm:"index;not null"`
	Status   string `json:"status" gorm:"index;default:'queued'"`
	Priority int    `json:"priority" gorm:"index;default:0"`

	Payload datatypes.JSON `json:"payload,omitempty" gorm:"type:jsonb"`
	Results datatypes.JSON `json:"results,omitempty" gorm:"type:jsonb"`
	Error   string         `json:"error,omitempty" gorm:"type:text"`

	ProgressPct  int    `json:"progress_pct" gorm:"default:0"`
	ProgressText string `json:"progress_text,omitempty"`

	WorkerID   string `json:"worker_id,omitempty" gorm:"index"`
	RetryCount int    `json:"retry_count" gorm:"default:0"`
	MaxRetries int    `json:"max_retries" gorm:"default:3"`
	CreatedBy  string `json:"created_by,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (Job) TableName() string {
	return "jobs"
}

// Retryable meldet, ob der Job erneut eingereiht werden darf.
func (j *Job) Retryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}
