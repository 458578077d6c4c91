// Package tts provides Text-to-Speech synthesis for the assistant's replies.
package tts

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrEmptyText           = errors.New("no text to synthesize")
)

// Provider is the interface all TTS providers implement.
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// Available reports whether the provider can synthesize at all.
	Available() bool

	// Synthesize converts text to a complete audio payload.
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)
}

// SynthesizeRequest represents a synthesis request. Rate, Pitch and Style are
// optional prosody adjustments folded into an SSML wrapper.
type SynthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate,omitempty"`
	Pitch string `json:"pitch,omitempty"`
	Style string `json:"style,omitempty"`
}

// SynthesizeResponse represents a synthesis result.
type SynthesizeResponse struct {
	Audio          []byte        `json:"audio"`
	Format         string        `json:"format"`      // pcm or mp3
	SampleRate     int           `json:"sample_rate"` // Hz, for pcm
	Duration       time.Duration `json:"duration"`
	ProcessingTime time.Duration `json:"processing_time"`
	Voice          string        `json:"voice"`
	Provider       string        `json:"provider"`
}
