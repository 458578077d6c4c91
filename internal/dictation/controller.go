// Package dictation manages continuous speech capture for the session.
//
// It converts recognition results into user submissions, fires a repeating
// silence callback while nothing is heard, suspends capture while the
// assistant speaks so the system never transcribes its own voice, and
// restarts recognition sessions that end on their own.
package dictation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachvisio/coachvisio/internal/stt"
)

// noticeUnavailable is shown once when the capability is absent.
const noticeUnavailable = "La reconnaissance vocale n'est pas disponible sur cette installation."

// noticeInterrupted is shown when recognition fails for a non-transient reason.
const noticeInterrupted = "La reconnaissance vocale a été interrompue. Repassez en saisie texte."

// Config tunes the controller.
type Config struct {
	// SilenceWindow is how long without a result before the silence
	// callback fires. It re-arms itself and repeats while dictation stays
	// active.
	SilenceWindow time.Duration
	// RestartMin and RestartMax bound the debounce delay between automatic
	// session restarts. The delay doubles on every restart without a result
	// and resets once a result arrives.
	RestartMin time.Duration
	RestartMax time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		SilenceWindow: 10 * time.Second,
		RestartMin:    500 * time.Millisecond,
		RestartMax:    8 * time.Second,
	}
}

// Controller drives one dictation mode instance.
type Controller struct {
	mu         sync.Mutex
	recognizer stt.Recognizer
	logger     zerolog.Logger
	config     Config

	onTranscript func(string)
	onSilence    func()
	onNotice     func(string)

	active      bool // dictation mode logically on
	suspended   bool // capture stopped while the assistant speaks
	noticeShown bool
	closed      bool
	generation  int // invalidates timers and consumers from earlier activations

	session      stt.Session
	silenceTimer *time.Timer
	restartTimer *time.Timer
	restartDelay time.Duration
}

// New creates a controller. The recognizer may be nil or unavailable; in
// that case activation degrades to a one-time notice.
func New(recognizer stt.Recognizer, config Config, logger zerolog.Logger) *Controller {
	if config.SilenceWindow <= 0 {
		config.SilenceWindow = DefaultConfig().SilenceWindow
	}
	if config.RestartMin <= 0 {
		config.RestartMin = DefaultConfig().RestartMin
	}
	if config.RestartMax < config.RestartMin {
		config.RestartMax = config.RestartMin
	}

	return &Controller{
		recognizer: recognizer,
		logger:     logger.With().Str("component", "dictation").Logger(),
		config:     config,
	}
}

// OnTranscript registers the callback for each finalized transcript.
func (c *Controller) OnTranscript(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTranscript = fn
}

// OnSilence registers the callback fired when no result arrives within the
// silence window.
func (c *Controller) OnSilence(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSilence = fn
}

// OnNotice registers the callback for user-visible notices.
func (c *Controller) OnNotice(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotice = fn
}

// Activate turns dictation mode on. If the capability is absent the attempt
// degrades to a one-time notice rather than an error.
func (c *Controller) Activate() {
	c.mu.Lock()
	if c.closed || c.active {
		c.mu.Unlock()
		return
	}

	if c.recognizer == nil || !c.recognizer.Available() {
		notice := c.capabilityNoticeLocked()
		c.mu.Unlock()
		if notice != nil {
			notice(noticeUnavailable)
		}
		return
	}

	c.generation++
	c.active = true
	c.suspended = false
	c.restartDelay = c.config.RestartMin
	c.startSessionLocked()
	c.resetSilenceLocked()
	c.mu.Unlock()

	c.logger.Info().Msg("Dictation activated")
}

// Deactivate turns dictation mode off. Idempotent.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}

	c.generation++
	c.active = false
	c.suspended = false
	c.clearSilenceLocked()
	c.clearRestartLocked()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
	c.logger.Info().Msg("Dictation deactivated")
}

// HandleSpeakingStarted suspends capture while the assistant speaks, without
// leaving dictation mode. Repeated starts without an end are no-ops.
func (c *Controller) HandleSpeakingStarted() {
	c.mu.Lock()
	if !c.active || c.suspended {
		c.mu.Unlock()
		return
	}
	c.suspended = true
	c.clearRestartLocked()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
	c.logger.Debug().Msg("Capture suspended for assistant speech")
}

// HandleSpeakingEnded resumes capture if dictation mode is still active. An
// end without a prior start is a no-op.
func (c *Controller) HandleSpeakingEnded() {
	c.mu.Lock()
	if !c.active || !c.suspended {
		c.mu.Unlock()
		return
	}
	c.suspended = false
	if c.session == nil {
		c.startSessionLocked()
	}
	c.mu.Unlock()

	c.logger.Debug().Msg("Capture resumed after assistant speech")
}

// Active reports whether dictation mode is on.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Suspended reports whether capture is paused for assistant speech.
func (c *Controller) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// Close tears the controller down: stops any capture, clears all timers.
func (c *Controller) Close() {
	c.Deactivate()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// capabilityNoticeLocked returns the notice callback the first time the
// absent capability is hit, nil afterwards.
func (c *Controller) capabilityNoticeLocked() func(string) {
	if c.noticeShown {
		return nil
	}
	c.noticeShown = true
	c.logger.Warn().Msg("Speech recognition capability absent")
	return c.onNotice
}

// startSessionLocked starts a recognition session and its consumer. Caller
// holds the lock.
func (c *Controller) startSessionLocked() {
	sess, err := c.recognizer.Start(context.Background())
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to start recognition")
		c.active = false
		c.suspended = false
		c.clearSilenceLocked()
		notice := c.capabilityNoticeLocked()
		if notice != nil {
			go notice(noticeUnavailable)
		}
		return
	}

	c.session = sess
	go c.consume(c.generation, sess)
}

// consume forwards results from one session and handles its termination.
func (c *Controller) consume(gen int, sess stt.Session) {
	for res := range sess.Results() {
		if !res.Final {
			continue
		}

		c.mu.Lock()
		if c.generation != gen || !c.active {
			c.mu.Unlock()
			return
		}
		c.restartDelay = c.config.RestartMin
		c.resetSilenceLocked()
		cb := c.onTranscript
		c.mu.Unlock()

		if cb != nil {
			cb(res.Text)
		}
	}

	err := sess.Err()

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	if c.session == sess {
		c.session = nil
	}
	if !c.active {
		c.mu.Unlock()
		return
	}

	if err == nil || errors.Is(err, stt.ErrNoSpeech) {
		// Natural end or transient no-speech: restart with a debounce so a
		// platform that ends sessions immediately cannot spin us.
		if !c.suspended {
			c.scheduleRestartLocked()
		}
		c.mu.Unlock()
		return
	}

	// Any other error deactivates dictation mode entirely.
	c.active = false
	c.suspended = false
	c.clearSilenceLocked()
	c.clearRestartLocked()
	cb := c.onNotice
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("Recognition failed, dictation deactivated")
	if cb != nil {
		cb(noticeInterrupted)
	}
}

// scheduleRestartLocked arms a debounced restart. Caller holds the lock.
func (c *Controller) scheduleRestartLocked() {
	delay := c.restartDelay
	c.restartDelay *= 2
	if c.restartDelay > c.config.RestartMax {
		c.restartDelay = c.config.RestartMax
	}

	gen := c.generation
	c.clearRestartLocked()
	c.restartTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != gen || !c.active || c.suspended || c.session != nil {
			return
		}
		c.startSessionLocked()
	})
}

// resetSilenceLocked re-arms the repeating silence timer. Caller holds the
// lock.
func (c *Controller) resetSilenceLocked() {
	c.clearSilenceLocked()

	gen := c.generation
	c.silenceTimer = time.AfterFunc(c.config.SilenceWindow, func() {
		c.mu.Lock()
		if c.generation != gen || !c.active {
			c.mu.Unlock()
			return
		}
		cb := c.onSilence
		c.resetSilenceLocked()
		c.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

func (c *Controller) clearSilenceLocked() {
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
}

func (c *Controller) clearRestartLocked() {
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
}
