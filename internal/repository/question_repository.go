package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classora/assessment-backend/internal/model"
)

// QuestionRepository handles read access to exam questions, including
// the correct answers used by the scoring engine. Rows with answers must
// never leave the server; use model.Question.ForStudent for payloads.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves all questions for an exam, ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, text, type, options, points, media_url, media_kind, correct_answer, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q         model.Question
			rawOpts   []byte
			mediaURL  *string
			mediaKind *string
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &q.Type, &rawOpts, &q.Points, &mediaURL, &mediaKind, &q.CorrectAnswer, &q.OrderNum); err != nil {
			return nil, err
		}
		if len(rawOpts) > 0 {
			if err := json.Unmarshal(rawOpts, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options for question %s: %w", q.ID, err)
			}
		}
		if mediaURL != nil && *mediaURL != "" {
			kind := model.MediaKindImage
			if mediaKind != nil {
				kind = model.MediaKind(*mediaKind)
			}
			q.Media = &model.Media{URL: *mediaURL, Kind: kind}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CountByExam returns the number of questions in an exam.
func (r *QuestionRepository) CountByExam(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}
