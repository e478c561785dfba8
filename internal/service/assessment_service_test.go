package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classora/assessment-backend/internal/model"
	"github.com/classora/assessment-backend/internal/repository"
	"github.com/classora/assessment-backend/internal/scoring"
	"github.com/classora/assessment-backend/internal/session"
)

type fakeAssignments struct {
	mu         sync.Mutex
	assignment *model.ExamAssignment
}

func (f *fakeAssignments) GetByExamAndStudent(_ context.Context, examID uuid.UUID, studentID int64) (*model.ExamAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignment == nil || f.assignment.ExamID != examID || f.assignment.StudentID != studentID {
		return nil, pgx.ErrNoRows
	}
	out := *f.assignment
	return &out, nil
}

func (f *fakeAssignments) Transition(_ context.Context, studentID int64, examID uuid.UUID, from, to model.AssignmentStatus, score *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignment == nil || f.assignment.ExamID != examID || f.assignment.StudentID != studentID {
		return pgx.ErrNoRows
	}
	if f.assignment.Status != from {
		return repository.ErrStatusConflict
	}
	f.assignment.Status = to
	if score != nil {
		f.assignment.Score = score
	}
	if to == model.AssignmentStatusInProgress && f.assignment.StartedAt == nil {
		now := time.Now()
		f.assignment.StartedAt = &now
	}
	if to == model.AssignmentStatusSubmitted {
		now := time.Now()
		f.assignment.SubmittedAt = &now
	}
	return nil
}

func (f *fakeAssignments) status() model.AssignmentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignment.Status
}

type fakeCatalog struct {
	paper *model.ExamPaper
	key   []scoring.KeyItem
}

func (f *fakeCatalog) FetchExam(_ context.Context, _ uuid.UUID, _ int64) (*model.ExamPaper, error) {
	return f.paper, nil
}

func (f *fakeCatalog) GetAnswerKey(_ context.Context, _ uuid.UUID) ([]scoring.KeyItem, error) {
	return f.key, nil
}

type fakeArchive struct {
	answers map[string]string
}

func (f *fakeArchive) MapByAttempt(_ context.Context, _ uuid.UUID, _ int64) (map[string]string, error) {
	if f.answers == nil {
		return map[string]string{}, nil
	}
	return f.answers, nil
}

type fakeCache struct {
	mu      sync.Mutex
	answers map[string]string
	start   *time.Time
	cleared bool
}

func (f *fakeCache) SaveAnswer(_ context.Context, _ uuid.UUID, _ int64, questionID uuid.UUID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = make(map[string]string)
	}
	f.answers[questionID.String()] = value
	return nil
}

func (f *fakeCache) RestoreAnswers(_ context.Context, _ uuid.UUID, _ int64) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.answers))
	for k, v := range f.answers {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCache) RecordStart(_ context.Context, _ uuid.UUID, _ int64, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.start = &startedAt
	return nil
}

func (f *fakeCache) GetStart(_ context.Context, _ uuid.UUID, _ int64) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.start == nil {
		return time.Time{}, false, nil
	}
	return *f.start, true, nil
}

func (f *fakeCache) Clear(_ context.Context, _ uuid.UUID, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = nil
	f.start = nil
	f.cleared = true
	return nil
}

type testEnv struct {
	svc         *AssessmentService
	assignments *fakeAssignments
	cache       *fakeCache
	archive     *fakeArchive
	examID      uuid.UUID
	studentID   int64
	questions   []uuid.UUID
}

func newTestEnv(t *testing.T, status model.AssignmentStatus) *testEnv {
	t.Helper()

	examID := uuid.New()
	q1, q2 := uuid.New(), uuid.New()
	paper := &model.ExamPaper{
		ExamID:          examID,
		Title:           "Algebra Midterm",
		DurationMinutes: 30,
		Questions: []model.QuestionForStudent{
			{ID: q1, Text: "2+2?", Type: model.QuestionTypeMultipleChoice, Options: []string{"3", "4"}, Points: 1, OrderNum: 1},
			{ID: q2, Text: "The earth is flat.", Type: model.QuestionTypeBoolean, Options: model.BooleanOptions, Points: 1, OrderNum: 2},
		},
	}
	key := []scoring.KeyItem{
		{QuestionID: q1.String(), Type: model.QuestionTypeMultipleChoice, Points: 1, Answer: "4"},
		{QuestionID: q2.String(), Type: model.QuestionTypeBoolean, Points: 1, Answer: "False"},
	}

	assignment := &model.ExamAssignment{
		ID:        uuid.New(),
		ExamID:    examID,
		StudentID: 777,
		Status:    status,
	}
	if status == model.AssignmentStatusInProgress {
		started := time.Now().Add(-time.Minute)
		assignment.StartedAt = &started
	}

	assignments := &fakeAssignments{assignment: assignment}
	cache := &fakeCache{}
	archive := &fakeArchive{}

	svc := NewAssessmentService(
		assignments,
		&fakeCatalog{paper: paper, key: key},
		archive,
		cache,
		session.NewRegistry(),
		scoring.NewEngine(),
		session.NewRealClock(),
		zerolog.Nop(),
	)

	t.Cleanup(func() { svc.Abandon(777, examID) })

	return &testEnv{
		svc:         svc,
		assignments: assignments,
		cache:       cache,
		archive:     archive,
		examID:      examID,
		studentID:   777,
		questions:   []uuid.UUID{q1, q2},
	}
}

func TestStartSessionMovesPendingToInProgress(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)

	view, err := env.svc.StartSession(context.Background(), env.studentID, env.examID)
	require.NoError(t, err)

	assert.Equal(t, model.AssignmentStatusInProgress, env.assignments.status())
	assert.Equal(t, session.StateActive, view.State)
	assert.NotNil(t, view.Paper)
	assert.Greater(t, view.RemainingSeconds, 0)
	assert.LessOrEqual(t, view.RemainingSeconds, 30*60)
}

func TestStartSessionRejectsTerminalStatus(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusGraded)

	_, err := env.svc.StartSession(context.Background(), env.studentID, env.examID)

	var conflict *ConflictStatusError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.AssignmentStatusGraded, conflict.Assignment.Status)
}

func TestStartSessionUnknownExam(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)

	_, err := env.svc.StartSession(context.Background(), env.studentID, uuid.New())
	assert.ErrorIs(t, err, ErrExamNotFound)
}

func TestAnswerAndSubmitGradesAttempt(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)
	ctx := context.Background()

	_, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Answer(ctx, env.studentID, env.examID, env.questions[0], "4"))
	require.NoError(t, env.svc.Answer(ctx, env.studentID, env.examID, env.questions[1], "True"))

	breakdown, err := env.svc.Submit(ctx, env.studentID, env.examID)
	require.NoError(t, err)

	assert.Equal(t, float64(50), breakdown.Percentage)
	assert.Equal(t, model.AssignmentStatusGraded, env.assignments.status())
	require.NotNil(t, env.assignments.assignment.Score)
	assert.Equal(t, float64(50), *env.assignments.assignment.Score)
	assert.True(t, env.cache.cleared)
}

func TestAnswerRequiresLiveSession(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusInProgress)

	err := env.svc.Answer(context.Background(), env.studentID, env.examID, env.questions[0], "4")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestSubmitConflictSurfacesAuthoritativeStatus(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)
	ctx := context.Background()

	_, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)

	// Another writer finishes the attempt behind this session's back.
	score := 80.0
	env.assignments.mu.Lock()
	env.assignments.assignment.Status = model.AssignmentStatusGraded
	env.assignments.assignment.Score = &score
	env.assignments.mu.Unlock()

	_, err = env.svc.Submit(ctx, env.studentID, env.examID)

	var conflict *ConflictStatusError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.AssignmentStatusGraded, conflict.Assignment.Status)
	require.NotNil(t, conflict.Assignment.Score)
	assert.Equal(t, 80.0, *conflict.Assignment.Score)
	// The remote status was not overwritten.
	assert.Equal(t, model.AssignmentStatusGraded, env.assignments.status())
}

func TestSubmitResumesOwnPartialRetry(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)
	ctx := context.Background()

	_, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)
	require.NoError(t, env.svc.Answer(ctx, env.studentID, env.examID, env.questions[0], "4"))

	// Simulate a crash between the submitted and graded transitions.
	env.assignments.mu.Lock()
	env.assignments.assignment.Status = model.AssignmentStatusSubmitted
	env.assignments.mu.Unlock()

	breakdown, err := env.svc.Submit(ctx, env.studentID, env.examID)
	require.NoError(t, err)
	assert.Equal(t, float64(50), breakdown.Percentage)
	assert.Equal(t, model.AssignmentStatusGraded, env.assignments.status())
}

func TestSubmitIsIdempotentAfterCompletion(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)
	ctx := context.Background()

	_, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)
	require.NoError(t, env.svc.Answer(ctx, env.studentID, env.examID, env.questions[0], "4"))

	first, err := env.svc.Submit(ctx, env.studentID, env.examID)
	require.NoError(t, err)

	// Detached after success: a second submit reports no live session
	// rather than grading twice.
	_, err = env.svc.Submit(ctx, env.studentID, env.examID)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, float64(50), first.Percentage)
}

func TestResumeRestoresArchivedAnswers(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusInProgress)
	env.archive.answers = map[string]string{
		env.questions[0].String(): "4",
		env.questions[1].String(): "False",
	}
	ctx := context.Background()

	view, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)
	assert.Equal(t, "4", view.Answers[env.questions[0].String()])

	breakdown, err := env.svc.Submit(ctx, env.studentID, env.examID)
	require.NoError(t, err)
	assert.Equal(t, float64(100), breakdown.Percentage)
}

func TestResumePrefersHotBufferOverArchive(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusInProgress)
	env.archive.answers = map[string]string{env.questions[0].String(): "3"}
	env.cache.answers = map[string]string{env.questions[0].String(): "4"}

	view, err := env.svc.StartSession(context.Background(), env.studentID, env.examID)
	require.NoError(t, err)
	assert.Equal(t, "4", view.Answers[env.questions[0].String()])
}

func TestStartSessionClosesExpiredAttempt(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusInProgress)
	started := time.Now().Add(-2 * time.Hour)
	env.assignments.mu.Lock()
	env.assignments.assignment.StartedAt = &started
	env.assignments.mu.Unlock()
	env.archive.answers = map[string]string{env.questions[0].String(): "4"}

	_, err := env.svc.StartSession(context.Background(), env.studentID, env.examID)

	assert.ErrorIs(t, err, ErrAttemptExpired)
	assert.Equal(t, model.AssignmentStatusGraded, env.assignments.status())
	require.NotNil(t, env.assignments.assignment.Score)
	assert.Equal(t, float64(50), *env.assignments.assignment.Score)
}

func TestNavigateBounds(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)
	ctx := context.Background()

	_, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)

	require.NoError(t, env.svc.Navigate(env.studentID, env.examID, 1))
	assert.ErrorIs(t, env.svc.Navigate(env.studentID, env.examID, 2), session.ErrIndexOutOfRange)
	assert.ErrorIs(t, env.svc.Navigate(env.studentID, env.examID, -1), session.ErrIndexOutOfRange)

	view, err := env.svc.GetState(env.studentID, env.examID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.CurrentIndex)
}

func TestResultPendingUntilTerminal(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusInProgress)

	_, err := env.svc.Result(context.Background(), env.studentID, env.examID)
	assert.ErrorIs(t, err, ErrResultPending)
}

func TestManualScoreOverridesGradedAttempt(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusGraded)

	assignment, err := env.svc.ManualScore(context.Background(), env.studentID, env.examID, 85)
	require.NoError(t, err)
	require.NotNil(t, assignment.Score)
	assert.Equal(t, 85.0, *assignment.Score)
	assert.Equal(t, model.AssignmentStatusGraded, assignment.Status)
}

func TestManualScoreFinalizesStuckSubmission(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusSubmitted)

	assignment, err := env.svc.ManualScore(context.Background(), env.studentID, env.examID, 60)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusGraded, assignment.Status)
	require.NotNil(t, assignment.Score)
	assert.Equal(t, 60.0, *assignment.Score)
}

func TestManualScoreRejectsUnstartedAttempt(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)

	_, err := env.svc.ManualScore(context.Background(), env.studentID, env.examID, 50)

	var conflict *ConflictStatusError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.AssignmentStatusPending, conflict.Assignment.Status)
}

func TestAbandonKeepsAttemptResumable(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)
	ctx := context.Background()

	_, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)
	require.NoError(t, env.svc.Answer(ctx, env.studentID, env.examID, env.questions[0], "4"))

	env.svc.Abandon(env.studentID, env.examID)
	assert.Equal(t, model.AssignmentStatusInProgress, env.assignments.status())

	_, err = env.svc.GetState(env.studentID, env.examID)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	// Resume picks the autosaved answer back up.
	view, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)
	assert.Equal(t, "4", view.Answers[env.questions[0].String()])
}

func TestStartSessionReplacesPreviousController(t *testing.T) {
	env := newTestEnv(t, model.AssignmentStatusPending)
	ctx := context.Background()

	first, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)
	require.NoError(t, env.svc.Answer(ctx, env.studentID, env.examID, env.questions[0], "4"))

	second, err := env.svc.StartSession(ctx, env.studentID, env.examID)
	require.NoError(t, err)

	assert.Equal(t, session.StateActive, second.State)
	assert.Equal(t, "4", second.Answers[env.questions[0].String()])
	_ = first
}
