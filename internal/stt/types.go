// Package stt provides the speech-to-text capability consumed by dictation.
//
// The capability may be entirely absent (no API key, no capture source);
// absence is a modeled state reported by Available, not an error path.
package stt

import (
	"context"
	"errors"
	"sync"
)

// Common errors
var (
	// ErrNoSpeech means a recognition session ended because nothing was
	// heard. It is transient: the caller may start a new session.
	ErrNoSpeech = errors.New("no speech detected")

	// ErrUnavailable means the capability is absent on this installation.
	ErrUnavailable = errors.New("speech recognition unavailable")
)

// Result is one finalized transcript from a recognition session. Interim
// results are not produced.
type Result struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Session is one continuous recognition run. Sessions can terminate on their
// own; Results closes when that happens and Err reports the cause (nil for a
// natural end).
type Session interface {
	Results() <-chan Result
	Err() error
	Stop() // idempotent
}

// Recognizer starts continuous recognition sessions.
type Recognizer interface {
	Name() string
	Available() bool
	Start(ctx context.Context) (Session, error)
}

// Source delivers captured speech segments (complete WAV payloads) to a
// recognizer, typically from the session websocket.
type Source interface {
	Segments() <-chan []byte
}

// ChannelSource is a Source fed programmatically.
type ChannelSource struct {
	ch        chan []byte
	closeOnce sync.Once
}

// NewChannelSource creates a source with the given buffer size.
func NewChannelSource(buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelSource{ch: make(chan []byte, buffer)}
}

// Push queues a segment, dropping it when the buffer is full.
func (s *ChannelSource) Push(segment []byte) bool {
	select {
	case s.ch <- segment:
		return true
	default:
		return false
	}
}

// Segments returns the segment channel.
func (s *ChannelSource) Segments() <-chan []byte {
	return s.ch
}

// Close ends the source. Safe to call more than once.
func (s *ChannelSource) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
