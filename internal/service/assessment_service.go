package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/classora/assessment-backend/internal/model"
	"github.com/classora/assessment-backend/internal/repository"
	"github.com/classora/assessment-backend/internal/scoring"
	"github.com/classora/assessment-backend/internal/session"
)

// Domain errors for the attempt lifecycle.
var (
	// ErrNoActiveSession is returned for session operations when no live
	// controller exists for the (student, exam) pair on this instance.
	ErrNoActiveSession = errors.New("no active session for this exam")
	// ErrAttemptExpired is returned when a session cannot start because
	// the attempt deadline already passed. The attempt is force-submitted
	// with whatever answers were autosaved.
	ErrAttemptExpired = errors.New("attempt deadline has passed")
	// ErrResultPending is returned when a result is requested before the
	// attempt reached a terminal status.
	ErrResultPending = errors.New("attempt has no result yet")
)

// ConflictStatusError reports that a status transition lost the race to a
// concurrent writer. It carries the authoritative assignment so the
// caller can render the remote state instead of overwriting it.
type ConflictStatusError struct {
	Assignment *model.ExamAssignment
}

func (e *ConflictStatusError) Error() string {
	return fmt.Sprintf("assignment already %s", e.Assignment.Status)
}

// AssignmentStore is the persistence surface the attempt lifecycle
// needs: one read and the guarded status transition.
type AssignmentStore interface {
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int64) (*model.ExamAssignment, error)
	Transition(ctx context.Context, studentID int64, examID uuid.UUID, from, to model.AssignmentStatus, score *float64) error
}

// Catalog is the read surface for exam snapshots and grading keys.
type Catalog interface {
	FetchExam(ctx context.Context, examID uuid.UUID, studentID int64) (*model.ExamPaper, error)
	GetAnswerKey(ctx context.Context, examID uuid.UUID) ([]scoring.KeyItem, error)
}

// AnswerArchive is the durable answer store consulted when the Redis
// buffer is cold.
type AnswerArchive interface {
	MapByAttempt(ctx context.Context, examID uuid.UUID, studentID int64) (map[string]string, error)
}

// SessionView is the session snapshot returned to clients. It carries
// everything the UI needs to render or re-render an attempt after a
// reconnect.
type SessionView struct {
	Paper            *model.ExamPaper   `json:"paper,omitempty"`
	State            session.State      `json:"state"`
	CurrentIndex     int                `json:"current_index"`
	RemainingSeconds int                `json:"remaining_seconds"`
	Answers          map[string]string  `json:"answers"`
	Expired          bool               `json:"expired"`
	Result           *scoring.Breakdown `json:"result,omitempty"`
}

// AssessmentService orchestrates timed exam attempts: it owns the live
// session controllers, mediates between them and the persistence layer,
// and grades frozen snapshots. It is the session.Submitter for every
// controller it creates.
type AssessmentService struct {
	assignments AssignmentStore
	catalog     Catalog
	archive     AnswerArchive
	cache       AttemptCache
	registry    *session.Registry
	engine      *scoring.Engine
	clock       session.Clock
	log         zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(
	assignments AssignmentStore,
	catalog Catalog,
	archive AnswerArchive,
	cache AttemptCache,
	registry *session.Registry,
	engine *scoring.Engine,
	clock session.Clock,
	log zerolog.Logger,
) *AssessmentService {
	return &AssessmentService{
		assignments: assignments,
		catalog:     catalog,
		archive:     archive,
		cache:       cache,
		registry:    registry,
		engine:      engine,
		clock:       clock,
		log:         log.With().Str("component", "assessment_service").Logger(),
	}
}

// StartSession opens (or resumes) an attempt session. A pending
// assignment moves to in_progress with the attempt start stamped
// server-side; an in_progress one resumes against the original deadline
// with autosaved answers restored. Starting from a second device
// replaces the previous live controller.
func (s *AssessmentService) StartSession(ctx context.Context, studentID int64, examID uuid.UUID) (*SessionView, error) {
	assignment, err := s.getAssignment(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if assignment.Status.IsTerminal() {
		return nil, &ConflictStatusError{Assignment: assignment}
	}

	paper, err := s.catalog.FetchExam(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}

	if assignment.Status == model.AssignmentStatusPending {
		err := s.assignments.Transition(ctx, studentID, examID,
			model.AssignmentStatusPending, model.AssignmentStatusInProgress, nil)
		if errors.Is(err, repository.ErrStatusConflict) {
			// Someone else moved it first. Re-read and either resume the
			// in_progress attempt or surface the terminal state.
			if assignment, err = s.getAssignment(ctx, examID, studentID); err != nil {
				return nil, err
			}
			if assignment.Status != model.AssignmentStatusInProgress {
				return nil, &ConflictStatusError{Assignment: assignment}
			}
		} else if err != nil {
			return nil, fmt.Errorf("start attempt: %w", err)
		} else {
			// Re-read so started_at reflects the stamp just written.
			if assignment, err = s.getAssignment(ctx, examID, studentID); err != nil {
				return nil, err
			}
		}
	}

	startedAt, err := s.attemptStart(ctx, examID, studentID, assignment)
	if err != nil {
		return nil, err
	}

	remaining := paper.DurationMinutes*60 - int(s.clock.Now().Sub(startedAt).Seconds())
	restored, err := s.restoreAnswers(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}

	if remaining <= 0 {
		// Deadline passed while no session was live. Grade what was
		// autosaved; a conflict means another path already closed it.
		if _, err := s.SubmitAttempt(ctx, studentID, examID, restored); err != nil {
			var conflict *ConflictStatusError
			if !errors.As(err, &conflict) {
				return nil, fmt.Errorf("close expired attempt: %w", err)
			}
		}
		return nil, ErrAttemptExpired
	}

	timer := session.NewCountdownTimer(s.clock)
	ctrl := session.NewController(studentID, paper, restored, timer, s, s.log)
	if prev := s.registry.Attach(studentID, examID, ctrl); prev != nil {
		s.log.Info().
			Int64("student_id", studentID).
			Str("exam_id", examID.String()).
			Msg("Replaced live session from another connection")
	}
	ctrl.Start(remaining)

	s.log.Info().
		Int64("student_id", studentID).
		Str("exam_id", examID.String()).
		Int("remaining_seconds", remaining).
		Int("restored_answers", len(restored)).
		Msg("Session started")

	return s.view(ctrl, paper), nil
}

// Answer captures a single answer on the live session and mirrors it to
// the autosave pipeline. Overwrites are expected; the last write wins.
func (s *AssessmentService) Answer(ctx context.Context, studentID int64, examID uuid.UUID, questionID uuid.UUID, value string) error {
	ctrl, ok := s.registry.Get(studentID, examID)
	if !ok {
		return ErrNoActiveSession
	}
	if err := ctrl.SetAnswer(questionID.String(), value); err != nil {
		return err
	}

	// Autosave is best effort: the in-memory controller holds the truth
	// for this session, and submission persists the frozen snapshot.
	if err := s.cache.SaveAnswer(ctx, examID, studentID, questionID, value); err != nil {
		s.log.Warn().Err(err).
			Int64("student_id", studentID).
			Str("exam_id", examID.String()).
			Msg("Answer autosave failed")
	}
	return nil
}

// Navigate moves the session cursor to the given 0-based index.
func (s *AssessmentService) Navigate(studentID int64, examID uuid.UUID, index int) error {
	ctrl, ok := s.registry.Get(studentID, examID)
	if !ok {
		return ErrNoActiveSession
	}
	return ctrl.GoToQuestion(index)
}

// GetState returns the current session snapshot for a reconnecting
// client. The paper is not re-sent; clients fetch it separately.
func (s *AssessmentService) GetState(studentID int64, examID uuid.UUID) (*SessionView, error) {
	ctrl, ok := s.registry.Get(studentID, examID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	return s.view(ctrl, nil), nil
}

// Submit finalizes the attempt. From active it freezes and grades; from
// error it retries with the frozen snapshot; from completed it returns
// the stored result, making client-side retries idempotent.
func (s *AssessmentService) Submit(ctx context.Context, studentID int64, examID uuid.UUID) (*scoring.Breakdown, error) {
	ctrl, ok := s.registry.Get(studentID, examID)
	if !ok {
		return nil, ErrNoActiveSession
	}

	var (
		breakdown *scoring.Breakdown
		err       error
	)
	switch ctrl.State() {
	case session.StateActive:
		breakdown, err = ctrl.Submit(ctx)
	case session.StateError:
		breakdown, err = ctrl.RetrySubmit(ctx)
	case session.StateCompleted:
		return ctrl.Result(), nil
	default:
		return nil, session.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	s.registry.Detach(studentID, examID)
	return breakdown, nil
}

// Abandon tears down the live controller without touching the stored
// assignment status. An in_progress attempt stays resumable until its
// deadline.
func (s *AssessmentService) Abandon(studentID int64, examID uuid.UUID) {
	s.registry.Detach(studentID, examID)
}

// Result returns the stored assignment once the attempt is terminal.
func (s *AssessmentService) Result(ctx context.Context, studentID int64, examID uuid.UUID) (*model.ExamAssignment, error) {
	assignment, err := s.getAssignment(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if !assignment.Status.IsTerminal() {
		return nil, ErrResultPending
	}
	return assignment, nil
}

// ManualScore applies a grading-authority override, typically after
// reviewing free-text answers. Graded attempts can be re-graded; a
// submitted attempt whose automatic grading never landed is finalized.
func (s *AssessmentService) ManualScore(ctx context.Context, studentID int64, examID uuid.UUID, score float64) (*model.ExamAssignment, error) {
	err := s.assignments.Transition(ctx, studentID, examID,
		model.AssignmentStatusGraded, model.AssignmentStatusGraded, &score)
	if errors.Is(err, repository.ErrStatusConflict) {
		err = s.assignments.Transition(ctx, studentID, examID,
			model.AssignmentStatusSubmitted, model.AssignmentStatusGraded, &score)
	}
	if errors.Is(err, repository.ErrStatusConflict) {
		assignment, getErr := s.getAssignment(ctx, examID, studentID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &ConflictStatusError{Assignment: assignment}
	}
	if err != nil {
		return nil, fmt.Errorf("apply manual score: %w", err)
	}

	s.log.Info().
		Int64("student_id", studentID).
		Str("exam_id", examID.String()).
		Float64("score", score).
		Msg("Manual score applied")
	return s.getAssignment(ctx, examID, studentID)
}

// SubmitAttempt grades a frozen answer snapshot and persists the result.
// It implements session.Submitter and is also called directly for
// attempts that expire without a live session.
//
// The transition chain is in_progress → submitted → graded, each step
// guarded by the expected prior status. Losing the first step to a
// concurrent submitter surfaces the authoritative state as a
// ConflictStatusError — unless the stored status shows this is our own
// partial retry, which is resumed instead.
func (s *AssessmentService) SubmitAttempt(ctx context.Context, studentID int64, examID uuid.UUID, answers map[string]string) (scoring.Breakdown, error) {
	key, err := s.catalog.GetAnswerKey(ctx, examID)
	if err != nil {
		return scoring.Breakdown{}, fmt.Errorf("load answer key: %w", err)
	}
	breakdown := s.engine.Score(key, answers)
	score := breakdown.Percentage

	err = s.assignments.Transition(ctx, studentID, examID,
		model.AssignmentStatusInProgress, model.AssignmentStatusSubmitted, nil)
	if errors.Is(err, repository.ErrStatusConflict) {
		assignment, getErr := s.getAssignment(ctx, examID, studentID)
		if getErr != nil {
			return scoring.Breakdown{}, getErr
		}
		if assignment.Status != model.AssignmentStatusSubmitted {
			return scoring.Breakdown{}, &ConflictStatusError{Assignment: assignment}
		}
		// submitted but not graded: a previous run of this method died
		// between the two transitions. Fall through and finish grading.
	} else if err != nil {
		return scoring.Breakdown{}, fmt.Errorf("mark submitted: %w", err)
	}

	err = s.assignments.Transition(ctx, studentID, examID,
		model.AssignmentStatusSubmitted, model.AssignmentStatusGraded, &score)
	if errors.Is(err, repository.ErrStatusConflict) {
		assignment, getErr := s.getAssignment(ctx, examID, studentID)
		if getErr != nil {
			return scoring.Breakdown{}, getErr
		}
		if assignment.Status != model.AssignmentStatusGraded {
			return scoring.Breakdown{}, &ConflictStatusError{Assignment: assignment}
		}
		// Already graded by a concurrent finisher; keep its result.
	} else if err != nil {
		return scoring.Breakdown{}, fmt.Errorf("mark graded: %w", err)
	}

	if err := s.cache.Clear(ctx, examID, studentID); err != nil {
		s.log.Warn().Err(err).
			Int64("student_id", studentID).
			Str("exam_id", examID.String()).
			Msg("Failed to clear attempt cache")
	}
	return breakdown, nil
}

func (s *AssessmentService) getAssignment(ctx context.Context, examID uuid.UUID, studentID int64) (*model.ExamAssignment, error) {
	assignment, err := s.assignments.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return assignment, nil
}

// attemptStart resolves the authoritative attempt start, preferring the
// Redis fast path and re-caching on a miss.
func (s *AssessmentService) attemptStart(ctx context.Context, examID uuid.UUID, studentID int64, assignment *model.ExamAssignment) (time.Time, error) {
	if startedAt, ok, err := s.cache.GetStart(ctx, examID, studentID); err == nil && ok {
		return startedAt, nil
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Attempt start cache read failed")
	}

	if assignment.StartedAt == nil {
		return time.Time{}, fmt.Errorf("assignment %s is in_progress without started_at", assignment.ID)
	}
	if err := s.cache.RecordStart(ctx, examID, studentID, *assignment.StartedAt); err != nil {
		s.log.Warn().Err(err).Msg("Attempt start cache write failed")
	}
	return *assignment.StartedAt, nil
}

// restoreAnswers prefers the Redis buffer and falls back to the durable
// copy written by the autosave worker.
func (s *AssessmentService) restoreAnswers(ctx context.Context, examID uuid.UUID, studentID int64) (map[string]string, error) {
	answers, err := s.cache.RestoreAnswers(ctx, examID, studentID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Answer buffer read failed, using durable copy")
	}
	if len(answers) > 0 {
		return answers, nil
	}

	answers, err = s.archive.MapByAttempt(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("restore persisted answers: %w", err)
	}
	return answers, nil
}

func (s *AssessmentService) view(ctrl *session.Controller, paper *model.ExamPaper) *SessionView {
	return &SessionView{
		Paper:            paper,
		State:            ctrl.State(),
		CurrentIndex:     ctrl.CurrentIndex(),
		RemainingSeconds: ctrl.Remaining(),
		Answers:          ctrl.Answers(),
		Expired:          ctrl.Expired(),
		Result:           ctrl.Result(),
	}
}
