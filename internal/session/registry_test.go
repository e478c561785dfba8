package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHoldsOneControllerPerPair(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()

	first := NewController(1, threeQuestionPaper(), nil, NewCountdownTimer(newFakeClock()), &fakeSubmitter{}, zerolog.Nop())
	second := NewController(1, threeQuestionPaper(), nil, NewCountdownTimer(newFakeClock()), &fakeSubmitter{}, zerolog.Nop())

	prev := r.Attach(1, examID, first)
	assert.Nil(t, prev)
	assert.Equal(t, 1, r.Len())

	// Resume from another device replaces the live controller.
	prev = r.Attach(1, examID, second)
	assert.Same(t, first, prev)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(1, examID)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistryDetach(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()
	c := NewController(2, threeQuestionPaper(), nil, NewCountdownTimer(newFakeClock()), &fakeSubmitter{}, zerolog.Nop())

	r.Attach(2, examID, c)
	r.Detach(2, examID)

	_, ok := r.Get(2, examID)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	// Detaching an absent pair is a no-op.
	r.Detach(2, examID)
}

func TestRegistryIsolatesPairs(t *testing.T) {
	r := NewRegistry()
	examID := uuid.New()
	otherExam := uuid.New()

	a := NewController(1, threeQuestionPaper(), nil, NewCountdownTimer(newFakeClock()), &fakeSubmitter{}, zerolog.Nop())
	b := NewController(1, threeQuestionPaper(), nil, NewCountdownTimer(newFakeClock()), &fakeSubmitter{}, zerolog.Nop())

	r.Attach(1, examID, a)
	r.Attach(1, otherExam, b)

	assert.Equal(t, 2, r.Len())
	got, _ := r.Get(1, examID)
	assert.Same(t, a, got)
}
