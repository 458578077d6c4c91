package avatar

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestEmptyModel_NoMouthTarget(t *testing.T) {
	m := Empty(zerolog.Nop())

	if m.HasMouthTarget() {
		t.Error("empty model must not expose a mouth target")
	}

	// Driving a mouthless model is a silent no-op.
	m.SetMouthOpen(0.8)
	if m.MouthOpen() != 0 {
		t.Errorf("expected 0 weight, got %v", m.MouthOpen())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("does/not/exist.glb", DefaultMouthTarget, zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error for a missing asset")
	}
}

func TestSetMouthOpen_Clamps(t *testing.T) {
	m := Empty(zerolog.Nop())
	m.refs = []morphRef{{meshIndex: 0, targetIndex: 0}}
	m.weights[0] = make([]float32, 1)

	m.SetMouthOpen(1.7)
	if m.MouthOpen() != 1 {
		t.Errorf("expected clamp at 1, got %v", m.MouthOpen())
	}

	m.SetMouthOpen(-0.3)
	if m.MouthOpen() != 0 {
		t.Errorf("expected clamp at 0, got %v", m.MouthOpen())
	}
}
