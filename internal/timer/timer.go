// Package timer implements the session countdown state machine.
//
// The remaining time is always recomputed from a captured start timestamp,
// never by decrementing a counter per tick, so delayed or coalesced tick
// callbacks cannot desynchronize the displayed time from real elapsed time.
package timer

import (
	"fmt"
	"sync"
	"time"
)

// State is the countdown state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
)

// Clock abstracts wall-clock time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// DefaultTick is the recomputation cadence. The tick only refreshes the
// derived value; it carries no authority over it.
const DefaultTick = 250 * time.Millisecond

// Timer is a countdown with idle/running/paused/finished states.
type Timer struct {
	mu        sync.Mutex
	clock     Clock
	duration  time.Duration
	tick      time.Duration
	state     State
	remaining time.Duration // authoritative only while not running
	startedAt time.Time     // reference start, offset by any already-elapsed time
	stopTick  chan struct{}
	stopped   bool // onStop already fired for the current run

	onState func(State)
	onStop  func(elapsedSeconds int)
	onTick  func(remainingSeconds int)
}

// Option customizes a Timer.
type Option func(*Timer)

// WithClock injects a clock, used by tests.
func WithClock(c Clock) Option {
	return func(t *Timer) { t.clock = c }
}

// WithTick overrides the recomputation cadence.
func WithTick(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.tick = d
		}
	}
}

// New creates an idle timer for the given duration.
func New(duration time.Duration, opts ...Option) *Timer {
	t := &Timer{
		clock:     systemClock{},
		duration:  duration,
		tick:      DefaultTick,
		state:     StateIdle,
		remaining: duration,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnStateChange registers the state-change notification.
func (t *Timer) OnStateChange(fn func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

// OnStop registers the completion notification. It fires exactly once per
// run, with the actual elapsed seconds (full duration on natural completion).
func (t *Timer) OnStop(fn func(elapsedSeconds int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// OnTick registers a per-recomputation notification with the derived
// remaining whole seconds.
func (t *Timer) OnTick(fn func(remainingSeconds int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = fn
}

// Start begins or resumes the countdown. It is a no-op while running.
// Restarting from idle or finished resets the remaining time to the full
// duration; resuming from paused continues where it left off.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.state == StateRunning {
		t.mu.Unlock()
		return
	}

	if t.state == StateIdle || t.state == StateFinished {
		t.remaining = t.duration
	}

	alreadyElapsed := t.duration - t.remaining
	t.startedAt = t.clock.Now().Add(-alreadyElapsed)
	t.state = StateRunning
	t.stopped = false
	t.stopTickLocked()
	stop := make(chan struct{})
	t.stopTick = stop
	onState := t.onState
	t.mu.Unlock()

	if onState != nil {
		onState(StateRunning)
	}

	t.update()
	go t.loop(stop)
}

// Pause freezes the derived remaining time. Valid only from running.
func (t *Timer) Pause() {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return
	}

	t.remaining = t.duration - t.elapsedLocked()
	t.stopTickLocked()
	t.state = StatePaused
	onState := t.onState
	t.mu.Unlock()

	if onState != nil {
		onState(StatePaused)
	}
}

// Stop force-finishes the countdown, reporting the actual elapsed seconds.
// Valid only from running or paused.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.state != StateRunning && t.state != StatePaused {
		t.mu.Unlock()
		return
	}
	if t.state == StateRunning {
		t.remaining = t.duration - t.elapsedLocked()
	}
	t.finishLocked(false)
}

// Reset returns the timer to idle with the full duration remaining.
func (t *Timer) Reset() {
	t.mu.Lock()
	t.stopTickLocked()
	t.state = StateIdle
	t.remaining = t.duration
	onState := t.onState
	t.mu.Unlock()

	if onState != nil {
		onState(StateIdle)
	}
}

// State returns the current state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Remaining returns the derived remaining time. While running it is computed
// from the start timestamp, not from the last tick.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRunning {
		return t.duration - t.elapsedLocked()
	}
	return t.remaining
}

// RemainingSeconds returns the remaining time in whole seconds, rounded up
// so the display only reaches 00:00 when the countdown is truly over.
func (t *Timer) RemainingSeconds() int {
	return ceilSeconds(t.Remaining())
}

// Duration returns the configured full duration.
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// FormatRemaining renders the remaining time as mm:ss.
func (t *Timer) FormatRemaining() string {
	s := t.RemainingSeconds()
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func (t *Timer) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.update()
		}
	}
}

// update recomputes the remaining time from the start timestamp and handles
// natural completion.
func (t *Timer) update() {
	t.mu.Lock()
	if t.state != StateRunning {
		t.mu.Unlock()
		return
	}

	remaining := t.duration - t.elapsedLocked()
	t.remaining = remaining

	if remaining <= 0 {
		t.finishLocked(true)
		return
	}

	onTick := t.onTick
	t.mu.Unlock()

	if onTick != nil {
		onTick(ceilSeconds(remaining))
	}
}

// elapsedLocked derives elapsed running time, clamped to [0, duration].
func (t *Timer) elapsedLocked() time.Duration {
	elapsed := t.clock.Now().Sub(t.startedAt)
	if elapsed < 0 {
		return 0
	}
	if elapsed > t.duration {
		return t.duration
	}
	return elapsed
}

// finishLocked transitions to finished and fires the notifications. The
// caller must hold the lock; it is released before callbacks run.
func (t *Timer) finishLocked(completed bool) {
	t.stopTickLocked()

	var elapsedSeconds int
	if completed {
		t.remaining = 0
		elapsedSeconds = int(t.duration.Round(time.Second) / time.Second)
	} else {
		elapsed := t.duration - t.remaining
		if elapsed < 0 {
			elapsed = 0
		}
		elapsedSeconds = int(elapsed.Round(time.Second) / time.Second)
	}

	t.state = StateFinished
	alreadyStopped := t.stopped
	t.stopped = true
	onState := t.onState
	onStop := t.onStop
	t.mu.Unlock()

	if onState != nil {
		onState(StateFinished)
	}
	if onStop != nil && !alreadyStopped {
		onStop(elapsedSeconds)
	}
}

func (t *Timer) stopTickLocked() {
	if t.stopTick != nil {
		close(t.stopTick)
		t.stopTick = nil
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
