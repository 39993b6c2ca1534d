package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"content-forge/config"
	"content-forge/llm"
	"content-forge/models"
	"content-forge/quality"
	"content-forge/scraper"
	"content-forge/store"
	"content-forge/templates"
	"content-forge/workflow"
)

// errCancelled signalisiert eine am Checkpoint bestätigte Stornierung.
var errCancelled = errors.New("jobs: cancelled at checkpoint")

// Worker ist die Single-Loop-Ausführung der Queue: claimen, ausführen,
// abschließen. MAX_CONCURRENT_JOBS > 1 heißt mehrere Worker-Goroutinen,
// nie Parallelität innerhalb eines Jobs.
type Worker struct {
	ID string

	cfg     *config.Config
	st      *store.Store
	queue   *Queue
	runner  *workflow.Runner
	tpls    *templates.Store
	gateway *llm.Gateway
	gate    *quality.Gate
	writer  *ContentWriter
	scraper scraper.Provider
	log     *zap.Logger
}

// NewWorker verdrahtet einen Worker mit allen Abhängigkeiten.
func NewWorker(cfg *config.Config, st *store.Store, queue *Queue, runner *workflow.Runner, tpls *templates.Store, gateway *llm.Gateway, gate *quality.Gate, writer *ContentWriter, scr scraper.Provider, log *zap.Logger) *Worker {
	id := "worker-" + uuid.NewString()[:8]
	return &Worker{
		ID:      id,
		cfg:     cfg,
		st:      st,
		queue:   queue,
		runner:  runner,
		tpls:    tpls,
		gateway: gateway,
		gate:    gate,
		writer:  writer,
		scraper: scr,
		log:     log.With(zap.String("worker_id", id)),
	}
}

// Start betreibt die Poll-Schleife bis der Kontext endet. Die Orphan-
// Recovery läuft einmal pro Prozess in main, nicht pro Worker.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Worker gestartet", zap.Duration("poll_interval", w.cfg.PollInterval()))

	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	for {
		job, err := w.queue.Claim(w.ID)
		if err != nil {
			w.log.Error("Claim fehlgeschlagen", zap.Error(err))
		}
		if job != nil {
			w.execute(ctx, job)
			// Direkt weiterpollen, solange Arbeit da ist.
			select {
			case <-ctx.Done():
				w.log.Info("Worker beendet")
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			w.log.Info("Worker beendet")
			return
		case <-ticker.C:
		}
	}
}

// execute führt genau einen Job mit Wall-Clock-Timeout aus und schreibt
// den Endzustand. Panics in Handlern werden zu failed, nicht zum Absturz
// der Schleife.
func (w *Worker) execute(ctx context.Context, job *models.Job) {
	log := w.log.With(zap.Uint("job_id", job.ID), zap.String("type", job.Type))
	log.Info("Job gestartet")

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout())
	defer cancel()

	var results map[string]any
	err := func() (execErr error) {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic: %v", r)
			}
		}()
		results, execErr = w.dispatch(jobCtx, job)
		return
	}()

	switch {
	case errors.Is(err, errCancelled):
		log.Info("Job am Checkpoint storniert")
		if dbErr := w.queue.MarkCancelled(job, results); dbErr != nil {
			log.Error("Cancelled-Status konnte nicht geschrieben werden", zap.Error(dbErr))
		}
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Job-Timeout erreicht", zap.Duration("budget", w.cfg.JobTimeout()))
		if dbErr := w.queue.Fail(job, errors.New("timeout")); dbErr != nil {
			log.Error("Failed-Status konnte nicht geschrieben werden", zap.Error(dbErr))
		}
	case err != nil:
		log.Error("Job fehlgeschlagen", zap.Error(err))
		if dbErr := w.queue.Fail(job, err); dbErr != nil {
			log.Error("Failed-Status konnte nicht geschrieben werden", zap.Error(dbErr))
		}
	default:
		log.Info("Job abgeschlossen")
		if dbErr := w.queue.Complete(job, results); dbErr != nil {
			log.Error("Completed-Status konnte nicht geschrieben werden", zap.Error(dbErr))
		}
	}
}

// dispatch routet auf den Typ-Handler.
func (w *Worker) dispatch(ctx context.Context, job *models.Job) (map[string]any, error) {
	var payload Payload
	if len(job.Payload) > 0 {
		if err := store.UnmarshalColumn(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("jobs: invalid payload: %w", err)
		}
	}

	switch job.Type {
	case models.JobTypeNewsAggregation:
		return w.runNewsAggregation(ctx, job, payload)
	case models.JobTypeAIAnalysis:
		return w.runAIAnalysis(ctx, job, payload)
	case models.JobTypeContentGeneration:
		return w.runContentGeneration(ctx, job, payload)
	case models.JobTypeFullCycle:
		return w.runFullCycle(ctx, job, payload)
	default:
		return nil, fmt.Errorf("jobs: no handler for type %q", job.Type)
	}
}

// checkpoint prüft kooperativ auf Stornierung. Wird an Story-Grenzen und
// zwischen Full-Cycle-Phasen gerufen, nie mitten in einer Transaktion.
func (w *Worker) checkpoint(job *models.Job) error {
	if w.queue.IsCancelled(job.ID) {
		return errCancelled
	}
	return nil
}

// settingsFor lädt die Mandantenregeln, mit Config-Defaults als Fallback
// für Mandanten ohne Settings-Zeile.
func (w *Worker) settingsFor(accountID uint) *models.AccountSettings {
	var settings models.AccountSettings
	if err := w.st.DB().Where("account_id = ?", accountID).First(&settings).Error; err != nil {
		return &models.AccountSettings{
			AccountID:         accountID,
			MinContentLength:  200,
			MinQualityScore:   0.4,
			BlockTitleOnly:    true,
			BlockNoContent:    true,
			MinRelevanceScore: w.cfg.MinRelevanceScore,
			StoriesPerRun:     w.cfg.StoriesPerRun,
		}
	}
	return &settings
}
