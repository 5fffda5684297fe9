package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
	"github.com/eelnxz09/anamoly-processing/internal/feature"
)

// artifact is the serialized form of a trained model: every fitted stage plus
// the training-time feature ordering and encoder, enough to reproduce
// inference exactly.
type artifact struct {
	Kind          string           `json:"kind"`
	Contamination float64          `json:"contamination"`
	Seed          int64            `json:"seed"`
	Trained       bool             `json:"trained"`
	FeatureNames  []string         `json:"featureNames"`
	Encoder       *feature.Encoder `json:"encoder"`
	Scaler        *Scaler          `json:"scaler"`
	Reducer       *Reducer         `json:"reducer,omitempty"`
	Capability    json.RawMessage  `json:"capability"`
}

// Save writes the trained model to path as a JSON artifact. Parent
// directories are created as needed.
func (m *Model) Save(path string) error {
	if !m.trained {
		return domain.ErrUntrainedModel
	}

	state, err := m.capability.State()
	if err != nil {
		return fmt.Errorf("serializing capability state: %w", err)
	}

	a := artifact{
		Kind:          m.kind,
		Contamination: m.cfg.Contamination,
		Seed:          m.cfg.Seed,
		Trained:       m.trained,
		FeatureNames:  m.featureNames,
		Encoder:       m.encoder,
		Scaler:        m.scaler,
		Reducer:       m.reducer,
		Capability:    state,
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating model directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Load restores a trained model from a JSON artifact. Fails with
// ErrCorruptArtifact when any required field is missing or the capability
// state does not restore.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptArtifact, err)
	}

	switch {
	case a.Kind == "":
		return nil, fmt.Errorf("%w: missing kind", domain.ErrCorruptArtifact)
	case !a.Trained:
		return nil, fmt.Errorf("%w: artifact is not trained", domain.ErrCorruptArtifact)
	case len(a.FeatureNames) == 0:
		return nil, fmt.Errorf("%w: missing feature names", domain.ErrCorruptArtifact)
	case a.Encoder == nil:
		return nil, fmt.Errorf("%w: missing encoder", domain.ErrCorruptArtifact)
	case a.Scaler == nil || len(a.Scaler.Medians) == 0:
		return nil, fmt.Errorf("%w: missing scaler", domain.ErrCorruptArtifact)
	case len(a.Capability) == 0:
		return nil, fmt.Errorf("%w: missing capability state", domain.ErrCorruptArtifact)
	}

	cfg := CapabilityConfig{Contamination: a.Contamination, Seed: a.Seed}
	model, err := NewModel(a.Kind, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptArtifact, err)
	}
	if err := model.capability.Restore(a.Capability); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptArtifact, err)
	}

	model.scaler = a.Scaler
	model.reducer = a.Reducer
	model.encoder = a.Encoder
	model.featureNames = a.FeatureNames
	model.trained = true
	return model, nil
}
