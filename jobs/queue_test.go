package jobs

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"content-forge/models"
	"content-forge/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Job{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(db)
	return NewQueue(st, zap.NewNop()), st
}

func TestEnqueueValidatesType(t *testing.T) {
	q, _ := newTestQueue(t)
	if _, err := q.Enqueue("unfug", Payload{}, 0, "test", 1); err == nil {
		t.Error("expected error for unknown job type")
	}
	job, err := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}
	if job.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", job.MaxRetries)
	}
}

func TestClaimOrdering(t *testing.T) {
	q, _ := newTestQueue(t)
	low, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	time.Sleep(5 * time.Millisecond)
	high, _ := q.Enqueue(models.JobTypeAIAnalysis, Payload{}, 10, "test", 1)

	first, err := q.Claim("w1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if first == nil || first.ID != high.ID {
		t.Fatalf("first claim = %+v, want high-priority job %d", first, high.ID)
	}
	if first.Status != models.JobStatusProcessing || first.WorkerID != "w1" {
		t.Errorf("claimed job not marked processing: %+v", first)
	}

	second, err := q.Claim("w1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if second == nil || second.ID != low.ID {
		t.Fatalf("second claim = %+v, want %d", second, low.ID)
	}

	third, err := q.Claim("w1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if third != nil {
		t.Errorf("empty queue returned job %d", third.ID)
	}
}

func TestClaimIsExactlyOnce(t *testing.T) {
	q, _ := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)

	first, err := q.Claim("w1")
	if err != nil || first == nil || first.ID != job.ID {
		t.Fatalf("first claim failed: %v %+v", err, first)
	}
	second, err := q.Claim("w2")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if second != nil {
		t.Errorf("job claimed twice: %d", second.ID)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	q, _ := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)

	cancelled, err := q.Cancel(job.ID, 1)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if got, _ := q.Claim("w1"); got != nil {
		t.Errorf("cancelled job was claimed: %d", got.ID)
	}
}

func TestCancelIsNoopOnCompleted(t *testing.T) {
	q, _ := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	claimed, _ := q.Claim("w1")
	if err := q.Complete(claimed, map[string]any{"ok": true}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	after, err := q.Cancel(job.ID, 1)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if after.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, completed must stay completed", after.Status)
	}
}

func TestRetryFailedJob(t *testing.T) {
	q, _ := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	claimed, _ := q.Claim("w1")
	if err := q.Fail(claimed, errTest("kaputt")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	retried, err := q.Retry(job.ID, 1)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != models.JobStatusQueued {
		t.Errorf("status = %s, want queued", retried.Status)
	}
	if retried.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", retried.RetryCount)
	}
	if retried.Error != "" {
		t.Errorf("error not cleared: %q", retried.Error)
	}
}

func TestRetryRefusesExhaustedBudget(t *testing.T) {
	q, st := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	if err := st.DB().Model(&models.Job{}).Where("id = ?", job.ID).
		Updates(map[string]any{"status": models.JobStatusFailed, "retry_count": 3}).Error; err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := q.Retry(job.ID, 1); err != ErrNotRetryable {
		t.Errorf("err = %v, want ErrNotRetryable", err)
	}
}

func TestRetryRefusesNonFailed(t *testing.T) {
	q, _ := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	if _, err := q.Retry(job.ID, 1); err != ErrNotRetryable {
		t.Errorf("err = %v, want ErrNotRetryable for queued job", err)
	}
}

func TestRecoverOrphansRequeuesWithBudget(t *testing.T) {
	q, st := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	if _, err := q.Claim("dead-worker"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// Der Job hängt länger als das Wall-Clock-Budget in processing.
	if err := st.DB().Model(&models.Job{}).Where("id = ?", job.ID).
		Update("started_at", time.Now().UTC().Add(-2*time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	if err := q.RecoverOrphans("new-worker", time.Hour); err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	recovered, err := q.Get(job.ID, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if recovered.Status != models.JobStatusQueued {
		t.Errorf("status = %s, want requeued", recovered.Status)
	}
	if recovered.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", recovered.RetryCount)
	}
}

func TestRecoverOrphansFailsExhausted(t *testing.T) {
	q, st := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	if err := st.DB().Model(&models.Job{}).Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":      models.JobStatusProcessing,
			"worker_id":   "dead-worker",
			"retry_count": 3,
			"started_at":  time.Now().UTC().Add(-2 * time.Hour),
		}).Error; err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := q.RecoverOrphans("new-worker", time.Hour); err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	after, err := q.Get(job.ID, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed", after.Status)
	}
}

func TestRecoverOrphansLeavesLiveJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	job, _ := q.Enqueue(models.JobTypeContentGeneration, Payload{}, 0, "test", 1)
	if _, err := q.Claim("worker-a"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Eine zweite Instanz startet, während worker-a mitten im Job ist.
	// Der frische processing-Eintrag darf nicht wieder eingereiht werden,
	// sonst liefe der Job doppelt.
	if err := q.RecoverOrphans("worker-b", time.Hour); err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	after, err := q.Get(job.ID, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Status != models.JobStatusProcessing || after.WorkerID != "worker-a" {
		t.Errorf("live job touched by recovery: status=%s worker=%s", after.Status, after.WorkerID)
	}
	if after.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", after.RetryCount)
	}
}

// errTest ist ein einfacher error-Wert für Fail-Aufrufe.
type errTest string

func (e errTest) Error() string { return string(e) }
