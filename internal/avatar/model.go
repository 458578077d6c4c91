// Package avatar loads the 3D avatar asset and exposes its mouth morph
// target to the viseme driver.
package avatar

import (
	"encoding/json"
	"sync"

	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"
)

// DefaultMouthTarget is the semantic morph-target name driven by speech.
const DefaultMouthTarget = "mouthOpen"

// morphRef locates one named morph target inside the scene graph.
type morphRef struct {
	meshIndex   int
	targetIndex int
}

// Model holds the loaded scene plus every mesh exposing the mouth target.
// A model without the target is valid: writes simply have no visible effect.
type Model struct {
	mu      sync.RWMutex
	path    string
	target  string
	refs    []morphRef
	weights map[int][]float32 // mesh index -> morph target weights
	logger  zerolog.Logger
}

// Load reads a glTF binary and scans the scene graph for meshes exposing the
// named morph target. Target names live in each mesh's extras.
func Load(path, targetName string, logger zerolog.Logger) (*Model, error) {
	if targetName == "" {
		targetName = DefaultMouthTarget
	}

	doc, err := gltf.Open(path)
	if err != nil {
		return nil, err
	}

	m := &Model{
		path:    path,
		target:  targetName,
		weights: make(map[int][]float32),
		logger:  logger.With().Str("component", "avatar").Logger(),
	}

	for i, mesh := range doc.Meshes {
		names := targetNames(mesh.Extras)
		idx := -1
		for j, name := range names {
			if name == targetName {
				idx = j
				break
			}
		}
		if idx < 0 {
			continue
		}

		weights := make([]float32, len(names))
		copy(weights, mesh.Weights)
		m.weights[i] = weights
		m.refs = append(m.refs, morphRef{meshIndex: i, targetIndex: idx})
	}

	if len(m.refs) == 0 {
		m.logger.Warn().Str("target", targetName).Str("path", path).
			Msg("Avatar exposes no mouth morph target, animation will have no visible effect")
	} else {
		m.logger.Info().Str("target", targetName).Int("meshes", len(m.refs)).
			Msg("Avatar model loaded")
	}

	return m, nil
}

// Empty returns a model with no morph targets, used when the asset is
// missing. All writes are silent no-ops.
func Empty(logger zerolog.Logger) *Model {
	return &Model{
		target:  DefaultMouthTarget,
		weights: make(map[int][]float32),
		logger:  logger.With().Str("component", "avatar").Logger(),
	}
}

// HasMouthTarget reports whether any mesh exposes the mouth morph target.
func (m *Model) HasMouthTarget() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.refs) > 0
}

// SetMouthOpen writes the weight into every mesh exposing the target,
// clamped to [0, 1]. A model without the target ignores the write.
func (m *Model) SetMouthOpen(weight float32) {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range m.refs {
		m.weights[ref.meshIndex][ref.targetIndex] = weight
	}
}

// MouthOpen returns the current mouth-open weight, 0 when the target is
// absent.
func (m *Model) MouthOpen() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.refs) == 0 {
		return 0
	}
	ref := m.refs[0]
	return m.weights[ref.meshIndex][ref.targetIndex]
}

// targetNames extracts the morph target names from a mesh's extras, which
// glTF exporters store as {"targetNames": [...]}.
func targetNames(extras any) []string {
	var m map[string]any

	switch v := extras.(type) {
	case map[string]any:
		m = v
	case json.RawMessage:
		if json.Unmarshal(v, &m) != nil {
			return nil
		}
	default:
		return nil
	}

	raw, ok := m["targetNames"].([]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			names = append(names, s)
		}
	}
	return names
}
