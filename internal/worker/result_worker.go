package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classora/assessment-backend/internal/config"
	"github.com/classora/assessment-backend/internal/model"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
)

// ResultWorker flushes graded results from the expiry sweep to
// PostgreSQL in batches. Attempt deadlines cluster at exam end, so
// per-row writes would hammer the pool exactly when load peaks.
//
// Every write is conditional on status = 'in_progress'; a row already
// finalized by a live submission is skipped, never overwritten.
type ResultWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewResultWorker creates a new ResultWorker.
func NewResultWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "result_worker").Logger(),
	}
}

// Start begins the worker loop with batching. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]*model.ResultPersistJob, 0, ResultBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ResultBatchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var job model.ResultPersistJob
			if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &job)
		}
	}
}

func (w *ResultWorker) flushSafe(ctx context.Context, batch []*model.ResultPersistJob) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkFinalize(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("Bulk result update failed, using fallback")

		for _, job := range batch {
			if err := w.finalizeSingle(ctx, job); err != nil {
				w.log.Error().Err(err).Msg("Single result update failed, requeueing")
				raw, _ := json.Marshal(job)
				w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
			}
		}
		return
	}

	// The attempts are closed; their hot-path keys are dead weight now.
	w.bulkClearAttemptKeys(ctx, batch)
}

// bulkFinalize closes a batch of overdue attempts with one UNNEST query.
func (w *ResultWorker) bulkFinalize(ctx context.Context, batch []*model.ResultPersistJob) error {
	n := len(batch)

	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int64, 0, n)
	scores := make([]float64, 0, n)

	for _, job := range batch {
		examIDs = append(examIDs, job.ExamID)
		students = append(students, job.StudentID)
		scores = append(scores, job.Score)
	}

	query := `
		UPDATE exam_assignments AS a
		SET status = 'graded',
		    score = t.score,
		    submitted_at = NOW(),
		    updated_at = NOW()
		FROM (
			SELECT u.exam_id, u.student_id, u.score
			FROM UNNEST(
				$1::uuid[],
				$2::bigint[],
				$3::float8[]
			) AS u (exam_id, student_id, score)
		) AS t
		WHERE a.exam_id = t.exam_id
		  AND a.student_id = t.student_id
		  AND a.status = 'in_progress'
	`

	_, err := w.pool.Exec(ctx, query, examIDs, students, scores)
	return err
}

func (w *ResultWorker) finalizeSingle(ctx context.Context, job *model.ResultPersistJob) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE exam_assignments
		 SET status = 'graded',
		     score = $1,
		     submitted_at = NOW(),
		     updated_at = NOW()
		 WHERE exam_id = $2 AND student_id = $3 AND status = 'in_progress'`,
		job.Score, job.ExamID, job.StudentID,
	)
	return err
}

func (w *ResultWorker) bulkClearAttemptKeys(ctx context.Context, batch []*model.ResultPersistJob) {
	pipe := w.rdb.Pipeline()
	for _, job := range batch {
		pipe.Del(ctx,
			config.CacheKey.StudentAnswersKey(job.ExamID.String(), job.StudentID),
			config.CacheKey.AttemptStartKey(job.ExamID.String(), job.StudentID),
		)
	}
	_, _ = pipe.Exec(ctx)
}
