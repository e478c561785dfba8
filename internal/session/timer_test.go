package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerCountsDownAndExpiresOnce(t *testing.T) {
	clock := newFakeClock()
	timer := NewCountdownTimer(clock)

	var lastTick atomic.Int64
	var expires atomic.Int64

	timer.Start(3,
		func(remaining int) { lastTick.Store(int64(remaining)) },
		func() { expires.Add(1) },
	)

	clock.Tick()
	require.Eventually(t, func() bool { return lastTick.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, timer.Remaining())
	assert.False(t, timer.Expired())

	clock.Tick()
	clock.Tick()
	require.Eventually(t, func() bool { return expires.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, timer.Remaining())
	assert.True(t, timer.Expired())

	// Further ticks must not fire anything after expiry.
	clock.Tick()
	clock.Tick()
	assert.Equal(t, int64(1), expires.Load())
	assert.Equal(t, 0, timer.Remaining())
}

func TestTimerStopHaltsTicking(t *testing.T) {
	clock := newFakeClock()
	timer := NewCountdownTimer(clock)

	var ticks atomic.Int64
	var expires atomic.Int64

	timer.Start(10,
		func(int) { ticks.Add(1) },
		func() { expires.Add(1) },
	)

	clock.Tick()
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, time.Millisecond)

	timer.Stop()
	clock.Tick()
	clock.Tick()

	assert.Equal(t, int64(1), ticks.Load())
	assert.Equal(t, int64(0), expires.Load())
	assert.Equal(t, 9, timer.Remaining())
	assert.False(t, timer.Expired())
}

func TestTimerStopIsIdempotent(t *testing.T) {
	timer := NewCountdownTimer(newFakeClock())
	timer.Start(5, nil, nil)

	timer.Stop()
	timer.Stop() // must not panic or deadlock
}

func TestTimerZeroDurationExpiresImmediately(t *testing.T) {
	var expires atomic.Int64
	timer := NewCountdownTimer(newFakeClock())

	timer.Start(0, nil, func() { expires.Add(1) })

	assert.Equal(t, int64(1), expires.Load())
	assert.True(t, timer.Expired())
}

func TestTimerStartTwiceIsNoop(t *testing.T) {
	clock := newFakeClock()
	timer := NewCountdownTimer(clock)

	var ticks atomic.Int64
	timer.Start(5, func(int) { ticks.Add(1) }, nil)
	timer.Start(99, func(int) { ticks.Add(100) }, nil)

	clock.Tick()
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 4, timer.Remaining())
}
