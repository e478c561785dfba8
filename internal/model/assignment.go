package model

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentStatus enumerates the lifecycle of a student's binding to an
// exam instance. Transitions only move forward and are guarded by an
// expected-prior-status check at write time.
type AssignmentStatus string

const (
	AssignmentStatusPending    AssignmentStatus = "pending"
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	AssignmentStatusSubmitted  AssignmentStatus = "submitted"
	AssignmentStatusGraded     AssignmentStatus = "graded"
)

// IsTerminal reports whether the status refuses a new attempt session.
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentStatusSubmitted || s == AssignmentStatusGraded
}

// ExamAssignment binds one student to one exam instance. Rows are created
// when an exam is scheduled for a student (by surrounding application
// code) and are never deleted by this subsystem.
type ExamAssignment struct {
	ID          uuid.UUID        `json:"id"`
	ExamID      uuid.UUID        `json:"exam_id"`
	StudentID   int64            `json:"student_id"`
	Status      AssignmentStatus `json:"status"`
	Score       *float64         `json:"score,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// AssignmentOverview pairs an assignment with its exam summary for the
// student's assignment list.
type AssignmentOverview struct {
	Exam   ExamSummary      `json:"exam"`
	Status AssignmentStatus `json:"status"`
	Score  *float64         `json:"score,omitempty"`
}

// AnswerRequest is the payload for capturing a single answer.
type AnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Value      string `json:"value" binding:"required,max=10000"`
}

// NavigateRequest is the payload for moving the session cursor.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// ManualScoreRequest is the payload for a grading-authority score override.
type ManualScoreRequest struct {
	Score *float64 `json:"score" binding:"required,min=0,max=100"`
}
