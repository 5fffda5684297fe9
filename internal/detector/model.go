package detector

import (
	"fmt"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
	"github.com/eelnxz09/anamoly-processing/internal/feature"
)

// Model owns a fitted scaler, an optional fitted reducer, a fitted scoring
// capability, and the exact feature-name ordering and categorical encoding
// seen at training time. Immutable once trained; a new training run replaces
// the model wholesale.
type Model struct {
	kind string
	cfg  CapabilityConfig

	capability   Capability
	scaler       *Scaler
	reducer      *Reducer
	encoder      *feature.Encoder
	featureNames []string
	trained      bool
}

// TrainOptions tunes a training run.
type TrainOptions struct {
	// UseReducer enables dimensionality reduction before fitting.
	UseReducer bool

	// Components caps the reduced dimensionality; defaults to 10.
	Components int
}

// NewModel creates an untrained model for the given capability kind.
func NewModel(kind string, cfg CapabilityConfig) (*Model, error) {
	capability, err := NewCapability(kind, cfg)
	if err != nil {
		return nil, err
	}
	return &Model{kind: kind, cfg: cfg, capability: capability}, nil
}

// Kind returns the capability kind backing this model.
func (m *Model) Kind() string { return m.kind }

// Trained reports whether a fit has completed.
func (m *Model) Trained() bool { return m.trained }

// FeatureNames returns the column ordering captured at training time.
func (m *Model) FeatureNames() []string { return m.featureNames }

// Contamination returns the configured expected anomaly proportion.
func (m *Model) Contamination() float64 { return m.cfg.Contamination }

// Train fits the full pipeline on a snapshot of records: feature extraction
// with a fresh encoder, scaling, optional reduction, then capability fitting.
// The encoder is frozen afterwards so inference reuses the training codes.
func (m *Model) Train(records []domain.Transaction, opts TrainOptions) error {
	enc := feature.NewEncoder()
	table, err := feature.Extract(records, enc)
	if err != nil {
		return err
	}

	scaler := FitScaler(table.Rows)
	X := scaler.Transform(table.Rows)

	var reducer *Reducer
	if opts.UseReducer {
		components := opts.Components
		if components <= 0 {
			components = 10
		}
		reducer = FitReducer(X, components, m.cfg.Seed)
		if reducer != nil {
			X = reducer.Transform(X)
		}
	}

	if err := m.capability.Fit(X); err != nil {
		return fmt.Errorf("capability fit failed: %w", err)
	}

	enc.Freeze()
	m.scaler = scaler
	m.reducer = reducer
	m.encoder = enc
	m.featureNames = table.Columns
	m.trained = true
	return nil
}

// Assess scores a batch of records against the trained pipeline and returns
// one risk assessment per record, aligned by position.
func (m *Model) Assess(records []domain.Transaction) ([]domain.RiskAssessment, error) {
	preds, raw, err := m.score(records)
	if err != nil {
		return nil, err
	}

	norm := Normalize(raw, preds)

	out := make([]domain.RiskAssessment, len(records))
	for i := range records {
		out[i] = domain.RiskAssessment{
			TransactionID: records[i].ID,
			Prediction:    preds[i],
			AnomalyScore:  raw[i],
			RiskScore:     norm.RiskScores[i],
			RiskLevel:     norm.RiskLevels[i],
			Confidence:    norm.Confidence[i],
			IsAnomaly:     preds[i] == -1,
		}
	}
	return out, nil
}

// score runs extraction, scaling, reduction, and raw scoring. Shared by
// Assess and the explanation path.
func (m *Model) score(records []domain.Transaction) ([]int, []float64, error) {
	table, err := m.extract(records)
	if err != nil {
		return nil, nil, err
	}
	X := m.transform(table)
	return m.capability.Score(X)
}

// extract derives features with the frozen training encoder and verifies the
// column ordering still matches what the capability was fitted on.
func (m *Model) extract(records []domain.Transaction) (*feature.Table, error) {
	if !m.trained {
		return nil, domain.ErrUntrainedModel
	}
	table, err := feature.Extract(records, m.encoder)
	if err != nil {
		return nil, err
	}
	if len(table.Columns) != len(m.featureNames) {
		return nil, fmt.Errorf("feature columns changed since training: got %d, want %d",
			len(table.Columns), len(m.featureNames))
	}
	for i, c := range table.Columns {
		if c != m.featureNames[i] {
			return nil, fmt.Errorf("feature column %d changed since training: got %q, want %q",
				i, c, m.featureNames[i])
		}
	}
	return table, nil
}

func (m *Model) transform(table *feature.Table) [][]float64 {
	X := m.scaler.Transform(table.Rows)
	if m.reducer != nil {
		X = m.reducer.Transform(X)
	}
	return X
}
