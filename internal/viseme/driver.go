package viseme

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachvisio/coachvisio/internal/avatar"
	"github.com/coachvisio/coachvisio/internal/bus"
)

// Config tunes the audio-to-mouth mapping.
type Config struct {
	FFTSize    int
	BandLowHz  float64
	BandHighHz float64
	NoiseFloor float64
	Gain       float64
	Smoothing  float64
	FrameRate  int
}

// DefaultConfig returns the tuning used when no overrides are configured.
func DefaultConfig() Config {
	return Config{
		FFTSize:    2048,
		BandLowHz:  80,
		BandHighHz: 1000,
		NoiseFloor: 0.02,
		Gain:       3.0,
		Smoothing:  0.1,
		FrameRate:  60,
	}
}

func sanitize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.BandLowHz < 0 {
		cfg.BandLowHz = def.BandLowHz
	}
	if cfg.BandHighHz <= cfg.BandLowHz {
		cfg.BandLowHz = def.BandLowHz
		cfg.BandHighHz = def.BandHighHz
	}
	if cfg.NoiseFloor <= 0 || cfg.NoiseFloor >= 1 {
		cfg.NoiseFloor = def.NoiseFloor
	}
	if cfg.Gain <= 0 {
		cfg.Gain = def.Gain
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = def.FrameRate
	}
	return cfg
}

// AudioSource exposes the samples currently at the playhead of whatever is
// playing. Window returns the most recent n samples, zero-padded when
// playback has not yet produced that many.
type AudioSource interface {
	SampleRate() int
	Window(n int) []float64
}

// Driver runs a frame loop while audio plays, turning band amplitude into a
// smoothed mouth-open weight applied to the avatar model and published on
// the bus.
type Driver struct {
	mu     sync.Mutex
	model  *avatar.Model
	events *bus.Bus
	logger zerolog.Logger

	cfg      Config
	analyser *Analyser
	source   AudioSource
	stop     chan struct{}
	weight   float64
}

// New creates a driver for the given model. events may be nil when no
// frontend is listening. Out-of-range tuning fields fall back to defaults
// individually.
func New(model *avatar.Model, events *bus.Bus, cfg Config, logger zerolog.Logger) *Driver {
	cfg = sanitize(cfg)
	return &Driver{
		model:  model,
		events: events,
		logger: logger,
		cfg:    cfg,
	}
}

// Attach starts driving the mouth from src. Any previous attachment is torn
// down first.
func (d *Driver) Attach(src AudioSource) {
	d.mu.Lock()
	d.detachLocked()
	d.analyser = NewAnalyser(src.SampleRate(), d.cfg.FFTSize, d.cfg.BandLowHz, d.cfg.BandHighHz)
	d.source = src
	d.stop = make(chan struct{})
	stop := d.stop
	analyser := d.analyser
	d.mu.Unlock()

	go d.loop(stop, src, analyser)
}

// Detach stops the frame loop and relaxes the mouth. Safe to call when
// nothing is attached.
func (d *Driver) Detach() {
	d.mu.Lock()
	d.detachLocked()
	d.mu.Unlock()
}

func (d *Driver) detachLocked() {
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	d.analyser = nil
	d.source = nil
	d.weight = 0
	d.model.SetMouthOpen(0)
	d.publish(0)
}

// Retune applies new mapping parameters without restarting an active loop.
// The transform size and band take effect on the next Attach.
func (d *Driver) Retune(cfg Config) {
	cfg = sanitize(cfg)
	d.mu.Lock()
	d.cfg.NoiseFloor = cfg.NoiseFloor
	d.cfg.Gain = cfg.Gain
	d.cfg.Smoothing = cfg.Smoothing
	d.mu.Unlock()
	d.logger.Debug().
		Float64("noise_floor", cfg.NoiseFloor).
		Float64("gain", cfg.Gain).
		Float64("smoothing", cfg.Smoothing).
		Msg("viseme tuning updated")
}

// Weight returns the current mouth-open weight.
func (d *Driver) Weight() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.weight
}

func (d *Driver) loop(stop chan struct{}, src AudioSource, analyser *Analyser) {
	interval := time.Second / time.Duration(d.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			stale := d.stop != stop
			d.mu.Unlock()
			if stale {
				return
			}
			d.advance(analyser.BandPeak(src.Window(analyser.Size())))
		}
	}
}

// advance applies one animation frame for the given band amplitude and
// returns the new weight.
func (d *Driver) advance(amp float64) float64 {
	d.mu.Lock()
	target := d.computeTargetLocked(amp)
	d.weight += (target - d.weight) * d.cfg.Smoothing
	w := d.weight
	d.mu.Unlock()

	d.model.SetMouthOpen(float32(w))
	d.publish(w)
	return w
}

// computeTargetLocked maps a raw band amplitude to a mouth target: amplitudes
// under the noise floor close the mouth, the rest is rescaled, amplified and
// clamped to [0, 1].
func (d *Driver) computeTargetLocked(amp float64) float64 {
	if amp <= d.cfg.NoiseFloor {
		return 0
	}
	target := (amp - d.cfg.NoiseFloor) / (1 - d.cfg.NoiseFloor) * d.cfg.Gain
	if target > 1 {
		target = 1
	}
	return target
}

func (d *Driver) publish(weight float64) {
	if d.events == nil {
		return
	}
	d.events.Publish(bus.Event{
		Type: bus.EventMouthWeight,
		Data: map[string]any{"weight": weight},
	})
}
