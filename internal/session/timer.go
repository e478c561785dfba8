package session

import (
	"sync"
	"time"
)

// CountdownTimer drives a session's remaining duration. It ticks once per
// second and decrements remaining time by exactly one per tick; wall-clock
// drift is not corrected, which is acceptable for this domain because the
// authoritative deadline is recomputed server-side from the attempt start
// timestamp.
//
// Callbacks run on the timer goroutine and each tick runs to completion
// before the next is scheduled. OnExpire fires at most once.
type CountdownTimer struct {
	clock Clock

	mu        sync.Mutex
	remaining int
	stopped   bool
	started   bool
	expired   bool
	ticker    Ticker
	done      chan struct{}
}

// NewCountdownTimer creates a timer bound to the given clock.
func NewCountdownTimer(clock Clock) *CountdownTimer {
	return &CountdownTimer{clock: clock, done: make(chan struct{})}
}

// Start begins ticking from initialSeconds. onTick receives the remaining
// seconds after every tick; onExpire fires exactly once when remaining
// reaches zero. Calling Start twice or after Stop is a no-op. If
// initialSeconds is already zero or negative, onExpire fires immediately.
func (t *CountdownTimer) Start(initialSeconds int, onTick func(secondsRemaining int), onExpire func()) {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.remaining = initialSeconds

	if initialSeconds <= 0 {
		t.stopped = true
		t.expired = true
		t.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
		return
	}

	t.ticker = t.clock.NewTicker(time.Second)
	t.mu.Unlock()

	go t.run(onTick, onExpire)
}

func (t *CountdownTimer) run(onTick func(int), onExpire func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C():
		}

		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		t.remaining--
		remaining := t.remaining
		expired := remaining <= 0
		if expired {
			t.stopped = true
			t.expired = true
			t.ticker.Stop()
		}
		t.mu.Unlock()

		if onTick != nil {
			onTick(remaining)
		}
		if expired {
			if onExpire != nil {
				onExpire()
			}
			return
		}
	}
}

// Stop halts ticking deterministically. It is safe to call multiple times
// and after expiry; ticks already delivered run to completion but no
// further callback fires.
func (t *CountdownTimer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	if t.ticker != nil {
		t.ticker.Stop()
	}
	close(t.done)
	t.mu.Unlock()
}

// Remaining returns the seconds left on the countdown.
func (t *CountdownTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining < 0 {
		return 0
	}
	return t.remaining
}

// Expired reports whether the countdown ran to zero (as opposed to being
// stopped by the owning session).
func (t *CountdownTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}
