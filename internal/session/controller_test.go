package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classora/assessment-backend/internal/model"
	"github.com/classora/assessment-backend/internal/scoring"
)

type fakeSubmitter struct {
	mu          sync.Mutex
	calls       int
	err         error
	breakdown   scoring.Breakdown
	lastAnswers map[string]string
}

func (f *fakeSubmitter) SubmitAttempt(_ context.Context, _ int64, _ uuid.UUID, answers map[string]string) (scoring.Breakdown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastAnswers = answers
	if f.err != nil {
		return scoring.Breakdown{}, f.err
	}
	return f.breakdown, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSubmitter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func threeQuestionPaper() *model.ExamPaper {
	return &model.ExamPaper{
		ExamID:          uuid.New(),
		Title:           "Algebra midterm",
		DurationMinutes: 30,
		Questions: []model.QuestionForStudent{
			{ID: uuid.New(), Text: "Q1", Type: model.QuestionTypeMultipleChoice, Options: []string{"A", "B"}, Points: 1},
			{ID: uuid.New(), Text: "Q2", Type: model.QuestionTypeBoolean, Options: model.BooleanOptions, Points: 1},
			{ID: uuid.New(), Text: "Q3", Type: model.QuestionTypeFreeText, Points: 2},
		},
	}
}

func newTestController(t *testing.T, sub Submitter) (*Controller, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	c := NewController(7001, threeQuestionPaper(), nil, NewCountdownTimer(clock), sub, zerolog.Nop())
	t.Cleanup(c.Teardown)
	return c, clock
}

func TestGoToQuestionClampsToBounds(t *testing.T) {
	c, _ := newTestController(t, &fakeSubmitter{})
	c.Start(60)

	require.NoError(t, c.GoToQuestion(2))
	assert.Equal(t, 2, c.CurrentIndex())

	assert.ErrorIs(t, c.GoToQuestion(3), ErrIndexOutOfRange)
	assert.ErrorIs(t, c.GoToQuestion(-1), ErrIndexOutOfRange)
	assert.Equal(t, 2, c.CurrentIndex(), "cursor must be unchanged after out-of-range navigation")
}

func TestAnswersRoundTripToSubmitter(t *testing.T) {
	sub := &fakeSubmitter{breakdown: scoring.Breakdown{TotalPoints: 4, EarnedPoints: 2, Percentage: 50}}
	c, _ := newTestController(t, sub)
	c.Start(60)

	paper := c.paper
	require.NoError(t, c.AnswerCurrentQuestion("B"))
	require.NoError(t, c.GoToQuestion(1))
	require.NoError(t, c.AnswerCurrentQuestion("True"))
	require.NoError(t, c.SetAnswer(paper.Questions[2].ID.String(), "my essay"))

	result, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, result.Percentage)
	assert.Equal(t, StateCompleted, c.State())

	want := map[string]string{
		paper.Questions[0].ID.String(): "B",
		paper.Questions[1].ID.String(): "True",
		paper.Questions[2].ID.String(): "my essay",
	}
	assert.Equal(t, want, sub.lastAnswers, "scoring must receive exactly the captured answers")
}

func TestSetAnswerRejectsUnknownQuestion(t *testing.T) {
	c, _ := newTestController(t, &fakeSubmitter{})
	c.Start(60)

	assert.ErrorIs(t, c.SetAnswer(uuid.NewString(), "A"), ErrUnknownQuestion)
}

func TestSubmitIsSingleFlight(t *testing.T) {
	sub := &fakeSubmitter{breakdown: scoring.Breakdown{Percentage: 75}}
	c, _ := newTestController(t, sub)
	c.Start(60)

	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, sub.callCount(), "a completed attempt must never be scored twice")
	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, 75.0, c.Result().Percentage)
}

func TestNoMutationAfterSubmit(t *testing.T) {
	c, _ := newTestController(t, &fakeSubmitter{})
	c.Start(60)

	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, c.AnswerCurrentQuestion("late"), ErrInvalidState)
	assert.ErrorIs(t, c.SetAnswer(c.paper.Questions[0].ID.String(), "late"), ErrInvalidState)
	assert.ErrorIs(t, c.GoToQuestion(1), ErrInvalidState)
}

func TestFailedSubmitKeepsAnswersAndAllowsRetry(t *testing.T) {
	sub := &fakeSubmitter{breakdown: scoring.Breakdown{Percentage: 100}}
	sub.setErr(errors.New("connection reset"))
	c, _ := newTestController(t, sub)
	c.Start(60)

	qID := c.paper.Questions[0].ID.String()
	require.NoError(t, c.SetAnswer(qID, "B"))

	_, err := c.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, c.State())

	// error is terminal for input: no fallback to active.
	assert.ErrorIs(t, c.SetAnswer(qID, "C"), ErrInvalidState)

	sub.setErr(nil)
	result, err := c.RetrySubmit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, c.State())
	assert.Equal(t, 100.0, result.Percentage)
	assert.Equal(t, map[string]string{qID: "B"}, sub.lastAnswers, "retry must reuse the frozen snapshot")
	assert.Equal(t, 2, sub.callCount())
}

func TestRetrySubmitRequiresErrorState(t *testing.T) {
	c, _ := newTestController(t, &fakeSubmitter{})
	c.Start(60)

	_, err := c.RetrySubmit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExpirySubmitsExactlyOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	c, clock := newTestController(t, sub)
	c.Start(2)

	clock.Tick()
	clock.Tick()

	require.Eventually(t, func() bool { return c.State() == StateCompleted }, time.Second, time.Millisecond)
	assert.Equal(t, 1, sub.callCount())
	assert.True(t, c.Expired())
	assert.Empty(t, sub.lastAnswers, "an unanswered expired attempt submits an empty answer map")
}

func TestManualSubmitBeatsExpiry(t *testing.T) {
	sub := &fakeSubmitter{}
	c, clock := newTestController(t, sub)
	c.Start(2)

	_, err := c.Submit(context.Background())
	require.NoError(t, err)

	// The countdown was stopped by Submit; further ticks are inert and the
	// expiry path must not score a second time.
	clock.Tick()
	clock.Tick()
	clock.Tick()

	assert.Equal(t, 1, sub.callCount())
	assert.Equal(t, StateCompleted, c.State())
	assert.False(t, c.Expired())
}

func TestExpiryBeatsManualSubmit(t *testing.T) {
	sub := &fakeSubmitter{}
	c, clock := newTestController(t, sub)
	c.Start(1)

	clock.Tick()
	require.Eventually(t, func() bool { return c.State() == StateCompleted }, time.Second, time.Millisecond)

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, sub.callCount())
}

func TestExpirySubmitFailureKeepsErrorState(t *testing.T) {
	sub := &fakeSubmitter{}
	sub.setErr(errors.New("backend down"))
	c, clock := newTestController(t, sub)
	c.Start(1)

	clock.Tick()
	require.Eventually(t, func() bool { return c.State() == StateError }, time.Second, time.Millisecond)

	// The exam visibly ended: input stays locked even though grading failed.
	assert.ErrorIs(t, c.AnswerCurrentQuestion("late"), ErrInvalidState)
	assert.True(t, c.Expired())

	sub.setErr(nil)
	_, err := c.RetrySubmit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, c.State())
}

func TestRestoredAnswersSurviveToSubmission(t *testing.T) {
	sub := &fakeSubmitter{}
	clock := newFakeClock()
	paper := threeQuestionPaper()
	qID := paper.Questions[1].ID.String()

	c := NewController(7001, paper, map[string]string{qID: "False"}, NewCountdownTimer(clock), sub, zerolog.Nop())
	t.Cleanup(c.Teardown)
	c.Start(60)

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{qID: "False"}, sub.lastAnswers)
}
