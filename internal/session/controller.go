package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classora/assessment-backend/internal/model"
	"github.com/classora/assessment-backend/internal/scoring"
)

// State enumerates the attempt state machine.
type State string

const (
	StateActive     State = "active"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Domain errors surfaced by the controller.
var (
	// ErrInvalidState is returned for operations not allowed in the
	// current state. Callers should treat it as a contract violation:
	// controls for the operation should already be disabled.
	ErrInvalidState = errors.New("operation not allowed in current session state")
	// ErrIndexOutOfRange is returned by GoToQuestion for bad indices.
	ErrIndexOutOfRange = errors.New("question index out of range")
	// ErrUnknownQuestion is returned when answering a question that is
	// not part of the exam snapshot.
	ErrUnknownQuestion = errors.New("question is not part of this exam")
)

// Submitter grades a frozen answer snapshot and persists the result. It
// must leave the assignment in its last known-good status on failure;
// the controller relies on that to allow a retry.
type Submitter interface {
	SubmitAttempt(ctx context.Context, studentID int64, examID uuid.UUID, answers map[string]string) (scoring.Breakdown, error)
}

// Controller is the state machine governing one exam attempt. All
// transitions are serialized under a single mutex; the countdown timer is
// the only source of asynchronous wake-ups besides caller requests.
type Controller struct {
	studentID int64
	paper     *model.ExamPaper
	submitter Submitter
	log       zerolog.Logger

	mu           sync.Mutex
	state        State
	currentIndex int
	answers      *AnswerStore
	timer        *CountdownTimer
	frozen       map[string]string // snapshot taken when submission begins
	result       *scoring.Breakdown
	expired      bool // submission was triggered by the countdown
}

// NewController creates a controller in the active state. The paper is
// the read-only exam snapshot for the session's lifetime; restored holds
// autosaved answers from a previous attempt on the same assignment.
func NewController(
	studentID int64,
	paper *model.ExamPaper,
	restored map[string]string,
	timer *CountdownTimer,
	submitter Submitter,
	log zerolog.Logger,
) *Controller {
	return &Controller{
		studentID: studentID,
		paper:     paper,
		submitter: submitter,
		log: log.With().
			Int64("student_id", studentID).
			Str("exam_id", paper.ExamID.String()).
			Logger(),
		state:   StateActive,
		answers: NewAnswerStore(restored),
		timer:   timer,
	}
}

// Start begins the countdown. Expiry auto-submits exactly once; the state
// guard in submit makes a near-simultaneous manual submit harmless.
func (c *Controller) Start(remainingSeconds int) {
	c.timer.Start(remainingSeconds, nil, func() {
		c.mu.Lock()
		if c.state == StateActive {
			c.expired = true
		}
		c.mu.Unlock()

		if _, err := c.Submit(context.Background()); err != nil && !errors.Is(err, ErrInvalidState) {
			c.log.Error().Err(err).Msg("Expiry submission failed, attempt kept for retry")
		}
	})
}

// State returns the current attempt state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentIndex returns the 0-based question cursor.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentIndex
}

// Remaining returns the seconds left on the countdown.
func (c *Controller) Remaining() int { return c.timer.Remaining() }

// Expired reports whether submission was forced by the countdown. Used to
// render a distinct "time is up" result state.
func (c *Controller) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Result returns the grading breakdown once the attempt completed.
func (c *Controller) Result() *scoring.Breakdown {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// GoToQuestion moves the cursor. Out-of-range indices and non-active
// states leave the cursor unchanged.
func (c *Controller) GoToQuestion(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ErrInvalidState
	}
	if index < 0 || index >= len(c.paper.Questions) {
		return ErrIndexOutOfRange
	}
	c.currentIndex = index
	return nil
}

// AnswerCurrentQuestion captures an answer for the question under the
// cursor. Allowed only while active.
func (c *Controller) AnswerCurrentQuestion(value string) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrInvalidState
	}
	questionID := c.paper.Questions[c.currentIndex].ID.String()
	c.mu.Unlock()

	c.answers.Set(questionID, value)
	return nil
}

// SetAnswer captures an answer for an arbitrary question by ID. Allowed
// only while active; no mutation is accepted once submission started.
func (c *Controller) SetAnswer(questionID, value string) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrInvalidState
	}
	known := false
	for i := range c.paper.Questions {
		if c.paper.Questions[i].ID.String() == questionID {
			known = true
			break
		}
	}
	c.mu.Unlock()

	if !known {
		return ErrUnknownQuestion
	}
	c.answers.Set(questionID, value)
	return nil
}

// Answers returns a snapshot of the captured answers.
func (c *Controller) Answers() map[string]string { return c.answers.Snapshot() }

// Submit freezes input, grades the snapshot and persists the result.
// Only one submission can ever run: the state guard rejects a second
// concurrent call, so a manual submit racing the expiry callback results
// in exactly one scoring pass. On failure the state moves to error and
// the assignment keeps its last known-good status; RetrySubmit re-attempts
// with the same frozen snapshot.
func (c *Controller) Submit(ctx context.Context) (*scoring.Breakdown, error) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	c.state = StateSubmitting
	c.frozen = c.answers.Snapshot()
	snapshot := c.frozen
	c.mu.Unlock()

	c.timer.Stop()
	return c.runSubmission(ctx, snapshot)
}

// RetrySubmit re-attempts a failed submission without losing captured
// answers. Allowed only from the error state; the frozen snapshot from
// the first attempt is reused so no late mutation can leak in.
func (c *Controller) RetrySubmit(ctx context.Context) (*scoring.Breakdown, error) {
	c.mu.Lock()
	if c.state != StateError {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	c.state = StateSubmitting
	snapshot := c.frozen
	c.mu.Unlock()

	return c.runSubmission(ctx, snapshot)
}

func (c *Controller) runSubmission(ctx context.Context, snapshot map[string]string) (*scoring.Breakdown, error) {
	breakdown, err := c.submitter.SubmitAttempt(ctx, c.studentID, c.paper.ExamID, snapshot)
	if err != nil {
		c.mu.Lock()
		c.state = StateError
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("Submission failed")
		return nil, err
	}

	c.mu.Lock()
	c.state = StateCompleted
	c.result = &breakdown
	c.mu.Unlock()

	c.log.Info().
		Float64("score", breakdown.Percentage).
		Int("answered", len(snapshot)).
		Msg("Attempt graded")
	return &breakdown, nil
}

// Teardown stops the timer. Must be called when the owning session
// completes, errors out or the student navigates away, otherwise the
// timer leaks and can fire after the session is gone.
func (c *Controller) Teardown() { c.timer.Stop() }
