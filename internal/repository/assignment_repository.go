package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classora/assessment-backend/internal/model"
)

// ErrStatusConflict is returned when a status transition finds the stored
// status differs from the expected prior status. This is the system's
// sole consistency mechanism: it guards against two near-simultaneous
// submissions, e.g. a timer expiry on one device racing a manual submit
// from another.
var ErrStatusConflict = errors.New("assignment status changed concurrently")

// AssignmentRepository persists the lifecycle state of a student's
// relationship to an exam. Rows are created externally when an exam is
// scheduled; this subsystem only transitions them forward.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// GetByExamAndStudent retrieves the assignment binding a student to an exam.
func (r *AssignmentRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int64) (*model.ExamAssignment, error) {
	a := &model.ExamAssignment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, score, started_at, submitted_at, created_at, updated_at
		 FROM exam_assignments
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.Score, &a.StartedAt, &a.SubmittedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByStudent returns the student's assignments joined with exam
// summaries, newest exams first. Callers partition the result into
// upcoming (pending/in_progress) and past (submitted/graded) views.
func (r *AssignmentRepository) ListByStudent(ctx context.Context, studentID int64) ([]model.AssignmentOverview, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.title, e.description, e.duration_minutes,
		        (SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id),
		        a.status, a.score
		 FROM exam_assignments a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.student_id = $1 AND e.status = $2
		 ORDER BY e.created_at DESC`, studentID, model.ExamStatusPublished,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.AssignmentOverview
	for rows.Next() {
		var o model.AssignmentOverview
		if err := rows.Scan(&o.Exam.ID, &o.Exam.Title, &o.Exam.Description, &o.Exam.DurationMinutes,
			&o.Exam.QuestionCount, &o.Status, &o.Score); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// Transition moves an assignment from one status to another with an
// expected-prior-status check (optimistic concurrency). A nil score
// leaves the stored score untouched. Returns ErrStatusConflict if the
// stored status does not match from at the time of the write; the caller
// must then surface the authoritative remote status rather than
// overwrite it.
func (r *AssignmentRepository) Transition(ctx context.Context, studentID int64, examID uuid.UUID, from, to model.AssignmentStatus, score *float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_assignments
		 SET status = $1,
		     score = COALESCE($2, score),
		     started_at = CASE WHEN $1 = 'in_progress' AND started_at IS NULL THEN NOW() ELSE started_at END,
		     submitted_at = CASE WHEN $1 = 'submitted' THEN NOW() ELSE submitted_at END,
		     updated_at = NOW()
		 WHERE exam_id = $3 AND student_id = $4 AND status = $5`,
		to, score, examID, studentID, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// OverdueAttempt identifies an in_progress attempt whose deadline passed.
type OverdueAttempt struct {
	ExamID    uuid.UUID
	StudentID int64
}

// ListOverdue returns in_progress assignments whose attempt deadline
// (started_at + exam duration + grace) is in the past. Used by the
// expiry sweep to force-submit attempts whose client died mid-exam.
func (r *AssignmentRepository) ListOverdue(ctx context.Context, grace time.Duration) ([]OverdueAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.exam_id, a.student_id
		 FROM exam_assignments a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.status = $1
		   AND a.started_at IS NOT NULL
		   AND a.started_at + make_interval(mins => e.duration_minutes) + $2::interval < NOW()`,
		model.AssignmentStatusInProgress, grace,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []OverdueAttempt
	for rows.Next() {
		var o OverdueAttempt
		if err := rows.Scan(&o.ExamID, &o.StudentID); err != nil {
			return nil, err
		}
		overdue = append(overdue, o)
	}
	return overdue, rows.Err()
}
