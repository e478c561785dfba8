package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/classora/assessment-backend/internal/config"
	"github.com/classora/assessment-backend/internal/model"
)

// AttemptCache is the hot-path store for a live attempt: the answer
// buffer and the attempt start timestamp. PostgreSQL remains the durable
// fallback for both.
type AttemptCache interface {
	SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int64, questionID uuid.UUID, value string) error
	RestoreAnswers(ctx context.Context, examID uuid.UUID, studentID int64) (map[string]string, error)
	RecordStart(ctx context.Context, examID uuid.UUID, studentID int64, startedAt time.Time) error
	GetStart(ctx context.Context, examID uuid.UUID, studentID int64) (time.Time, bool, error)
	Clear(ctx context.Context, examID uuid.UUID, studentID int64) error
}

// RedisAttemptCache implements AttemptCache on Redis. Every saved answer
// is also queued for asynchronous PostgreSQL persistence so a Redis
// eviction cannot lose an attempt.
type RedisAttemptCache struct {
	rdb *redis.Client
}

// NewRedisAttemptCache creates a Redis-backed AttemptCache.
func NewRedisAttemptCache(rdb *redis.Client) *RedisAttemptCache {
	return &RedisAttemptCache{rdb: rdb}
}

// SaveAnswer buffers the answer in the attempt hash and queues a persist
// job in a single pipeline round trip.
func (c *RedisAttemptCache) SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int64, questionID uuid.UUID, value string) error {
	job, err := json.Marshal(model.AnswerPersistJob{
		ExamID:     examID,
		StudentID:  studentID,
		QuestionID: questionID,
		Value:      value,
	})
	if err != nil {
		return fmt.Errorf("marshal persist job: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID), questionID.String(), value)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}
	return nil
}

// RestoreAnswers returns the buffered answers for an attempt. An empty
// map means the buffer is cold and the caller should fall back to the
// durable copy.
func (c *RedisAttemptCache) RestoreAnswers(ctx context.Context, examID uuid.UUID, studentID int64) (map[string]string, error) {
	answers, err := c.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(examID.String(), studentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("restore answers: %w", err)
	}
	return answers, nil
}

// RecordStart caches the attempt start timestamp.
func (c *RedisAttemptCache) RecordStart(ctx context.Context, examID uuid.UUID, studentID int64, startedAt time.Time) error {
	return c.rdb.Set(ctx,
		config.CacheKey.AttemptStartKey(examID.String(), studentID),
		strconv.FormatInt(startedAt.Unix(), 10), 0,
	).Err()
}

// GetStart returns the cached attempt start timestamp, if present.
func (c *RedisAttemptCache) GetStart(ctx context.Context, examID uuid.UUID, studentID int64) (time.Time, bool, error) {
	raw, err := c.rdb.Get(ctx, config.CacheKey.AttemptStartKey(examID.String(), studentID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get attempt start: %w", err)
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse attempt start: %w", err)
	}
	return time.Unix(unix, 0), true, nil
}

// Clear drops the attempt's hot-path keys after the attempt reaches a
// terminal status.
func (c *RedisAttemptCache) Clear(ctx context.Context, examID uuid.UUID, studentID int64) error {
	return c.rdb.Del(ctx,
		config.CacheKey.StudentAnswersKey(examID.String(), studentID),
		config.CacheKey.AttemptStartKey(examID.String(), studentID),
	).Err()
}
