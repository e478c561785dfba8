package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classora/assessment-backend/internal/config"
	"github.com/classora/assessment-backend/internal/model"
	"github.com/classora/assessment-backend/internal/repository"
	"github.com/classora/assessment-backend/internal/scoring"
	"github.com/classora/assessment-backend/internal/service"
)

// ExpiryWorker sweeps for in_progress attempts whose deadline passed
// without a live session submitting them — the client crashed, lost
// connectivity or just closed the tab. Each overdue attempt is graded
// from its autosaved answers and queued for batch persistence.
//
// The sweep waits a grace period past the deadline so a live client's
// own expiry tick wins whenever one exists; the conditional write in the
// result worker makes the race harmless either way.
type ExpiryWorker struct {
	assignments *repository.AssignmentRepository
	answers     *repository.AnswerRepository
	catalog     *service.CatalogService
	cache       service.AttemptCache
	engine      *scoring.Engine
	rdb         *redis.Client
	interval    time.Duration
	grace       time.Duration
	log         zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(
	assignments *repository.AssignmentRepository,
	answers *repository.AnswerRepository,
	catalog *service.CatalogService,
	cache service.AttemptCache,
	engine *scoring.Engine,
	rdb *redis.Client,
	interval, grace time.Duration,
	log zerolog.Logger,
) *ExpiryWorker {
	return &ExpiryWorker{
		assignments: assignments,
		answers:     answers,
		catalog:     catalog,
		cache:       cache,
		engine:      engine,
		rdb:         rdb,
		interval:    interval,
		grace:       grace,
		log:         log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Dur("grace", w.grace).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	overdue, err := w.assignments.ListOverdue(ctx, w.grace)
	if err != nil {
		w.log.Error().Err(err).Msg("Overdue scan failed")
		return
	}
	if len(overdue) == 0 {
		return
	}

	closed := 0
	for _, attempt := range overdue {
		if err := w.closeAttempt(ctx, attempt); err != nil {
			w.log.Error().Err(err).
				Int64("student_id", attempt.StudentID).
				Str("exam_id", attempt.ExamID.String()).
				Msg("Failed to close overdue attempt")
			continue
		}
		closed++
	}

	w.log.Info().
		Int("closed", closed).
		Int("overdue", len(overdue)).
		Msg("Expiry sweep complete")
}

// closeAttempt grades the attempt from its autosaved answers and queues
// the result. Whatever was saved counts; everything else scores zero.
func (w *ExpiryWorker) closeAttempt(ctx context.Context, attempt repository.OverdueAttempt) error {
	key, err := w.catalog.GetAnswerKey(ctx, attempt.ExamID)
	if err != nil {
		return err
	}

	answers, err := w.cache.RestoreAnswers(ctx, attempt.ExamID, attempt.StudentID)
	if err != nil || len(answers) == 0 {
		answers, err = w.answers.MapByAttempt(ctx, attempt.ExamID, attempt.StudentID)
		if err != nil {
			return err
		}
	}

	breakdown := w.engine.Score(key, answers)

	job, err := json.Marshal(model.ResultPersistJob{
		ExamID:    attempt.ExamID,
		StudentID: attempt.StudentID,
		Score:     breakdown.Percentage,
	})
	if err != nil {
		return err
	}
	return w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, job).Err()
}
