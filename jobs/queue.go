package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"content-forge/models"
	"content-forge/store"
)

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by type.",
		},
		[]string{"type"},
	)
	jobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs finished, by type and status.",
		},
		[]string{"type", "status"},
	)
)

func init() {
	prometheus.MustRegister(jobsEnqueuedTotal, jobsCompletedTotal)
}

// Bekannte Job-Typen für die Validierung beim Enqueue.
var knownJobTypes = map[string]bool{
	models.JobTypeContentGeneration: true,
	models.JobTypeFullCycle:         true,
	models.JobTypeNewsAggregation:   true,
	models.JobTypeAIAnalysis:        true,
}

// ErrNotRetryable meldet einen Retry-Versuch auf einem Job, der nicht
// failed ist oder sein Retry-Budget aufgebraucht hat.
var ErrNotRetryable = errors.New("jobs: job is not retryable")

// Payload ist die strukturierte Nutzlast eines Jobs.
type Payload struct {
	SpecificStoryID *uint    `json:"specificStoryId,omitempty"`
	SourceRefs      []string `json:"source_refs,omitempty"`
	Limit           int      `json:"limit,omitempty"`
}

// Queue ist die durable Job-Queue über der jobs-Tabelle. Die relationale
// DB ist das einzige Koordinationsmedium; Claims sind atomar, daher
// können mehrere Worker-Instanzen koexistieren.
type Queue struct {
	st  *store.Store
	log *zap.Logger
}

// NewQueue erstellt eine neue Queue.
func NewQueue(st *store.Store, log *zap.Logger) *Queue {
	return &Queue{st: st, log: log}
}

// Enqueue legt einen neuen Job mit status=queued an.
func (q *Queue) Enqueue(jobType string, payload Payload, priority int, createdBy string, accountID uint) (*models.Job, error) {
	if !knownJobTypes[jobType] {
		return nil, fmt.Errorf("jobs: unknown job type %q", jobType)
	}
	raw, err := store.MarshalColumn(payload)
	if err != nil {
		return nil, err
	}
	job := models.Job{
		AccountID:  accountID,
		Type:       jobType,
		Status:     models.JobStatusQueued,
		Priority:   priority,
		Payload:    raw,
		MaxRetries: 3,
		CreatedBy:  createdBy,
	}
	if err := q.st.DB().Create(&job).Error; err != nil {
		return nil, err
	}
	jobsEnqueuedTotal.WithLabelValues(jobType).Inc()
	q.log.Info("Job eingereiht",
		zap.Uint("job_id", job.ID),
		zap.String("type", jobType),
		zap.Uint("account_id", accountID),
		zap.Int("priority", priority))
	return &job, nil
}

// Claim holt den nächsten lauffähigen Job: priority DESC, created_at ASC.
// Der Claim ist ein Compare-and-Swap auf status='queued'; bei Verlust des
// Rennens wird der nächste Kandidat probiert. Gibt (nil, nil) zurück,
// wenn die Queue leer ist.
func (q *Queue) Claim(workerID string) (*models.Job, error) {
	for attempt := 0; attempt < 5; attempt++ {
		var candidate models.Job
		err := q.st.DB().
			Where("status = ?", models.JobStatusQueued).
			Order("priority DESC, created_at ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		res := q.st.DB().Model(&models.Job{}).
			Where("id = ? AND status = ?", candidate.ID, models.JobStatusQueued).
			Updates(map[string]any{
				"status":     models.JobStatusProcessing,
				"worker_id":  workerID,
				"started_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Ein anderer Worker war schneller.
			continue
		}

		candidate.Status = models.JobStatusProcessing
		candidate.WorkerID = workerID
		candidate.StartedAt = &now
		return &candidate, nil
	}
	return nil, nil
}

// Cancel ist advisory und nicht-präemptiv: queued- oder processing-Jobs
// werden auf cancelled geflippt; der Worker bestätigt am nächsten
// Checkpoint. Auf completed/failed ist Cancel ein No-op.
func (q *Queue) Cancel(jobID uint, accountID uint) (*models.Job, error) {
	var job models.Job
	if err := q.st.Tenant(accountID).First(&job, jobID).Error; err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed || job.Status == models.JobStatusCancelled {
		return &job, nil
	}
	res := q.st.DB().Model(&models.Job{}).
		Where("id = ? AND status IN ?", jobID, []string{models.JobStatusQueued, models.JobStatusProcessing}).
		Update("status", models.JobStatusCancelled)
	if res.Error != nil {
		return nil, res.Error
	}
	job.Status = models.JobStatusCancelled
	q.log.Info("Job storniert", zap.Uint("job_id", jobID))
	return &job, nil
}

// Retry reiht einen failed Job mit Restbudget wieder ein.
func (q *Queue) Retry(jobID uint, accountID uint) (*models.Job, error) {
	var job models.Job
	if err := q.st.Tenant(accountID).First(&job, jobID).Error; err != nil {
		return nil, err
	}
	if !job.Retryable() {
		return nil, ErrNotRetryable
	}
	res := q.st.DB().Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusFailed).
		Updates(map[string]any{
			"status":      models.JobStatusQueued,
			"retry_count": gorm.Expr("retry_count + 1"),
			"error":       "",
			"worker_id":   "",
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotRetryable
	}
	q.log.Info("Job erneut eingereiht",
		zap.Uint("job_id", jobID),
		zap.Int("retry_count", job.RetryCount+1))
	return q.find(jobID, accountID)
}

// RecoverOrphans räumt nach einem Crash-Restart auf: abgestandene
// processing-Zeilen fremder Worker werden wieder eingereiht (Budget
// vorhanden) oder als failed markiert. Abgestanden heißt started_at
// älter als olderThan; ein lebender Worker beendet oder faild seinen
// Job innerhalb des Wall-Clock-Budgets, frischere Zeilen gehören also
// einer laufenden Instanz und bleiben unangetastet.
func (q *Queue) RecoverOrphans(currentWorkerID string, olderThan time.Duration) error {
	cutoff := time.Now().UTC().Add(-olderThan)
	var orphans []models.Job
	if err := q.st.DB().
		Where("status = ? AND worker_id <> ? AND started_at < ?",
			models.JobStatusProcessing, currentWorkerID, cutoff).
		Find(&orphans).Error; err != nil {
		return err
	}
	for _, job := range orphans {
		updates := map[string]any{"worker_id": ""}
		if job.RetryCount < job.MaxRetries {
			updates["status"] = models.JobStatusQueued
			updates["retry_count"] = gorm.Expr("retry_count + 1")
			q.log.Warn("Verwaisten Job wieder eingereiht", zap.Uint("job_id", job.ID))
		} else {
			updates["status"] = models.JobStatusFailed
			updates["error"] = "worker lost before completion"
			q.log.Warn("Verwaisten Job als failed markiert", zap.Uint("job_id", job.ID))
		}
		if err := q.st.DB().Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusProcessing).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

// IsCancelled liest den aktuellen Status; Checkpoint-Abfrage des Workers.
func (q *Queue) IsCancelled(jobID uint) bool {
	var job models.Job
	if err := q.st.DB().Select("status").First(&job, jobID).Error; err != nil {
		return false
	}
	return job.Status == models.JobStatusCancelled
}

// Progress schreibt progress_pct (0-100) und progress_text.
func (q *Queue) Progress(jobID uint, pct int, text string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if err := q.st.DB().Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{"progress_pct": pct, "progress_text": text}).Error; err != nil {
		q.log.Warn("Progress-Update fehlgeschlagen", zap.Uint("job_id", jobID), zap.Error(err))
	}
}

// Complete markiert den Job als erfolgreich und persistiert die Results.
func (q *Queue) Complete(job *models.Job, results map[string]any) error {
	raw, err := store.MarshalColumn(results)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = q.st.DB().Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusProcessing).
		Updates(map[string]any{
			"status":       models.JobStatusCompleted,
			"results":      raw,
			"progress_pct": 100,
			"completed_at": now,
		}).Error
	if err == nil {
		jobsCompletedTotal.WithLabelValues(job.Type, models.JobStatusCompleted).Inc()
	}
	return err
}

// Fail markiert den Job als unrettbar fehlgeschlagen.
func (q *Queue) Fail(job *models.Job, failErr error) error {
	now := time.Now().UTC()
	err := q.st.DB().Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusProcessing).
		Updates(map[string]any{
			"status":       models.JobStatusFailed,
			"error":        failErr.Error(),
			"completed_at": now,
		}).Error
	if err == nil {
		jobsCompletedTotal.WithLabelValues(job.Type, models.JobStatusFailed).Inc()
	}
	return err
}

// MarkCancelled bestätigt eine Stornierung am Checkpoint.
func (q *Queue) MarkCancelled(job *models.Job, results map[string]any) error {
	raw, err := store.MarshalColumn(results)
	if err != nil {
		raw = nil
	}
	now := time.Now().UTC()
	err = q.st.DB().Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       models.JobStatusCancelled,
			"results":      raw,
			"completed_at": now,
		}).Error
	if err == nil {
		jobsCompletedTotal.WithLabelValues(job.Type, models.JobStatusCancelled).Inc()
	}
	return err
}

// Get liefert einen Job des Mandanten.
func (q *Queue) Get(jobID uint, accountID uint) (*models.Job, error) {
	return q.find(jobID, accountID)
}

// List liefert Jobs des Mandanten, optional nach Status gefiltert,
// neueste zuerst.
func (q *Queue) List(accountID uint, status string, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := q.st.Tenant(accountID).Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var out []models.Job
	err := query.Find(&out).Error
	return out, err
}

func (q *Queue) find(jobID uint, accountID uint) (*models.Job, error) {
	var job models.Job
	if err := q.st.Tenant(accountID).First(&job, jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}
