package model

import "github.com/google/uuid"

// AnswerPersistJob is queued for every autosaved answer and flushed to
// PostgreSQL by a background worker. The Redis answer buffer stays the
// hot copy; this makes the durable copy eventually consistent with it.
type AnswerPersistJob struct {
	ExamID     uuid.UUID `json:"exam_id"`
	StudentID  int64     `json:"student_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Value      string    `json:"value"`
}

// ResultPersistJob carries one graded attempt from the expiry sweep to
// the batch writer. Expiring attempts cluster at exam end, so results
// are flushed in bulk instead of row by row.
type ResultPersistJob struct {
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int64     `json:"student_id"`
	Score     float64   `json:"score"`
}
