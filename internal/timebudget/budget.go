// Package timebudget tracks the process-wide remaining coaching allowance,
// persisted across restarts so repeated simulation runs share one budget.
package timebudget

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Budget is the shared remaining allowance, clamped to [0, total]. It is
// consumed by wall-clock deltas while the session timer runs, never by
// counting ticks, so restart gaps cannot inflate it. While a run is open
// the remaining value is derived from the run start timestamp at read time.
type Budget struct {
	mu        sync.Mutex
	total     time.Duration
	remaining time.Duration
	runStart  time.Time
	path      string
	logger    zerolog.Logger
	now       func() time.Time
}

type persisted struct {
	RemainingMs int64 `json:"remainingMs"`
}

// Load reads the persisted remaining allowance, clamping whatever it finds.
// A missing or unreadable file yields a full budget.
func Load(path string, total time.Duration, logger zerolog.Logger) *Budget {
	b := &Budget{
		total:     total,
		remaining: total,
		path:      path,
		logger:    logger.With().Str("component", "timebudget").Logger(),
		now:       time.Now,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return b
	}

	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		b.logger.Warn().Err(err).Msg("Budget file unreadable, starting fresh")
		return b
	}

	b.remaining = clamp(time.Duration(p.RemainingMs)*time.Millisecond, total)
	return b
}

// Deduct consumes part of the allowance. Non-positive deltas are ignored.
func (b *Budget) Deduct(delta time.Duration) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = clamp(b.remaining-delta, b.total)
}

// BeginRun opens a running stretch. Until EndRun closes it, Remaining
// derives the elapsed time of the stretch at every read. No-op while a
// stretch is already open.
func (b *Budget) BeginRun() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runStart.IsZero() {
		b.runStart = b.now()
	}
}

// EndRun settles the open stretch into the stored allowance. No-op when no
// stretch is open.
func (b *Budget) EndRun() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settleLocked()
}

func (b *Budget) settleLocked() {
	if b.runStart.IsZero() {
		return
	}
	b.remaining = clamp(b.remaining-b.now().Sub(b.runStart), b.total)
	b.runStart = time.Time{}
}

// Remaining returns the current allowance, net of any open running stretch.
func (b *Budget) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remainingLocked()
}

func (b *Budget) remainingLocked() time.Duration {
	r := b.remaining
	if !b.runStart.IsZero() {
		r -= b.now().Sub(b.runStart)
	}
	return clamp(r, b.total)
}

// Exhausted reports whether the allowance has run out.
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= 0
}

// Reset restores the full allowance and discards any open stretch.
func (b *Budget) Reset() {
	b.mu.Lock()
	b.remaining = b.total
	b.runStart = time.Time{}
	b.mu.Unlock()
}

// Persist writes the remaining allowance durably, via a temp-file rename.
// An open running stretch is persisted at its derived value, so a crash
// mid-session cannot refund time already spent.
func (b *Budget) Persist() error {
	b.mu.Lock()
	remaining := b.remainingLocked()
	b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}

	raw, err := json.Marshal(persisted{RemainingMs: remaining.Milliseconds()})
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

func clamp(d, total time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > total {
		return total
	}
	return d
}
