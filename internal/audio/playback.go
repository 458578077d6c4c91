// Package audio models playback of synthesized speech.
//
// A Playback owns one clip of 16-bit PCM. Its playhead is derived from a
// captured start timestamp rather than accumulated ticks, so readers always
// see the position real time dictates. The viseme driver samples windows at
// the playhead; completion fires exactly once, on natural end or Stop.
package audio

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Playback is one playing clip.
type Playback struct {
	mu         sync.Mutex
	clock      Clock
	samples    []float64
	sampleRate int
	started    time.Time
	playing    bool
	timer      *time.Timer
	done       chan struct{}
	doneOnce   sync.Once
}

// NewPlayback decodes 16-bit little-endian mono PCM into a clip.
func NewPlayback(pcm []byte, sampleRate int) *Playback {
	samples := make([]float64, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		samples = append(samples, float64(sample)/32768.0)
	}

	return &Playback{
		clock:      systemClock{},
		samples:    samples,
		sampleRate: sampleRate,
		done:       make(chan struct{}),
	}
}

// WithClock injects a clock, used by tests.
func (p *Playback) WithClock(c Clock) *Playback {
	p.clock = c
	return p
}

// Play starts the clip. Calling Play on a playing or finished clip is a
// no-op.
func (p *Playback) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing || p.finished() {
		return
	}

	p.playing = true
	p.started = p.clock.Now()
	p.timer = time.AfterFunc(p.Duration(), p.Stop)
}

// Stop ends the clip. Idempotent; the done channel closes exactly once.
func (p *Playback) Stop() {
	p.mu.Lock()
	p.playing = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	p.doneOnce.Do(func() { close(p.done) })
}

// Done is closed exactly once when playback ends, naturally or via Stop.
func (p *Playback) Done() <-chan struct{} {
	return p.done
}

// Duration returns the clip length.
func (p *Playback) Duration() time.Duration {
	if p.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.samples)) * time.Second / time.Duration(p.sampleRate)
}

// SampleRate returns the clip sample rate in Hz.
func (p *Playback) SampleRate() int {
	return p.sampleRate
}

// Position derives the playhead from the start timestamp, clamped to the
// clip length.
func (p *Playback) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Playback) positionLocked() time.Duration {
	if !p.playing {
		if p.finished() {
			return p.Duration()
		}
		return 0
	}
	pos := p.clock.Now().Sub(p.started)
	if pos < 0 {
		return 0
	}
	if max := p.Duration(); pos > max {
		return max
	}
	return pos
}

// Window returns the n samples ending at the playhead, zero-padded while
// fewer than n samples have played.
func (p *Playback) Window(n int) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]float64, n)
	if n <= 0 || p.sampleRate <= 0 {
		return out
	}

	end := int(p.positionLocked() * time.Duration(p.sampleRate) / time.Second)
	if end > len(p.samples) {
		end = len(p.samples)
	}
	start := end - n
	if start < 0 {
		start = 0
	}

	copy(out[n-(end-start):], p.samples[start:end])
	return out
}

func (p *Playback) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
