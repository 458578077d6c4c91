package audio

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// pcmRamp builds n little-endian samples counting up from 1.
func pcmRamp(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(i+1))
	}
	return out
}

func TestPlayback_DecodesPCM(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(16384)) // 0.5
	binary.LittleEndian.PutUint16(pcm[2:], uint16(49152)) // -0.5 as two's complement

	p := NewPlayback(pcm, 100)
	w := p.Window(2)
	if len(w) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(w))
	}
	// Nothing played yet: window is zero-padded.
	if w[0] != 0 || w[1] != 0 {
		t.Errorf("expected zero window before play, got %v", w)
	}
	if p.Duration() != 20*time.Millisecond {
		t.Errorf("expected 20ms clip, got %v", p.Duration())
	}
}

func TestPlayback_PositionDerivedFromClock(t *testing.T) {
	clock := newFakeClock()
	p := NewPlayback(pcmRamp(1000), 1000).WithClock(clock) // 1s clip

	if p.Position() != 0 {
		t.Errorf("expected zero position before play, got %v", p.Position())
	}

	p.Play()
	clock.Advance(300 * time.Millisecond)
	if got := p.Position(); got != 300*time.Millisecond {
		t.Errorf("expected 300ms, got %v", got)
	}

	// Past the clip end the playhead clamps.
	clock.Advance(2 * time.Second)
	if got := p.Position(); got != time.Second {
		t.Errorf("expected clamp at 1s, got %v", got)
	}
}

func TestPlayback_WindowEndsAtPlayhead(t *testing.T) {
	clock := newFakeClock()
	p := NewPlayback(pcmRamp(1000), 1000).WithClock(clock)

	p.Play()
	clock.Advance(10 * time.Millisecond) // playhead at sample 10

	w := p.Window(4)
	want := []float64{7, 8, 9, 10}
	for i := range want {
		if got := w[i] * 32768.0; got != want[i] {
			t.Errorf("window[%d] = %v, want sample %v", i, got, want[i])
		}
	}
}

func TestPlayback_WindowZeroPadsEarly(t *testing.T) {
	clock := newFakeClock()
	p := NewPlayback(pcmRamp(1000), 1000).WithClock(clock)

	p.Play()
	clock.Advance(2 * time.Millisecond) // only 2 samples played

	w := p.Window(4)
	if w[0] != 0 || w[1] != 0 {
		t.Errorf("expected left zero padding, got %v", w)
	}
	if w[2]*32768.0 != 1 || w[3]*32768.0 != 2 {
		t.Errorf("expected samples 1,2 at the right edge, got %v", w)
	}
}

func TestPlayback_DoneClosesOnceOnStop(t *testing.T) {
	p := NewPlayback(pcmRamp(24000), 24000)

	p.Play()
	p.Stop()
	p.Stop()

	select {
	case <-p.Done():
	default:
		t.Fatal("done channel not closed after stop")
	}

	// Play after finish is a no-op.
	p.Play()
	if p.Position() != p.Duration() {
		t.Errorf("finished clip must report full position, got %v", p.Position())
	}
}

func TestPlayback_NaturalCompletion(t *testing.T) {
	p := NewPlayback(pcmRamp(24), 24000) // 1ms clip

	p.Play()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("clip never completed")
	}
}

func TestWAVFromPCM16(t *testing.T) {
	pcm := pcmRamp(10)
	wav := WAVFromPCM16(pcm, 24000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Errorf("expected 24000 Hz, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("expected data size %d, got %d", len(pcm), got)
	}
}
