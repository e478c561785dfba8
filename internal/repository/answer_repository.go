package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnswerRepository persists autosaved answers. The Redis hash is the hot
// buffer for an active attempt; these rows are the durable copy the
// expiry sweep falls back on when Redis evicted the buffer.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert creates or overwrites the stored answer for one question.
func (r *AnswerRepository) Upsert(ctx context.Context, examID uuid.UUID, studentID int64, questionID uuid.UUID, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO assignment_answers (exam_id, student_id, question_id, value)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_id, student_id, question_id) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = NOW()`,
		examID, studentID, questionID, value,
	)
	return err
}

// MapByAttempt returns the persisted question → answer mapping for one
// student's attempt.
func (r *AnswerRepository) MapByAttempt(ctx context.Context, examID uuid.UUID, studentID int64) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, value
		 FROM assignment_answers
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var questionID uuid.UUID
		var value string
		if err := rows.Scan(&questionID, &value); err != nil {
			return nil, err
		}
		answers[questionID.String()] = value
	}
	return answers, rows.Err()
}
