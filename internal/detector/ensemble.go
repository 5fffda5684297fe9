package detector

import (
	"fmt"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

// ensembleFlagThreshold aligns the ensemble anomaly flag with the
// High/Critical risk boundary rather than re-polling member predictions.
const ensembleFlagThreshold = 60.0

// Ensemble combines trained models under fixed relative weights. Each member
// runs its own full pipeline; any member failure aborts the call.
type Ensemble struct {
	members []*Model
	weights []float64
}

// NewEnsemble builds the standard two-member ensemble: a forest model and a
// boundary model sharing contamination and seed.
func NewEnsemble(cfg CapabilityConfig, forestWeight, boundaryWeight float64) (*Ensemble, error) {
	if forestWeight <= 0 || boundaryWeight <= 0 {
		return nil, fmt.Errorf("ensemble weights must be positive")
	}
	sum := forestWeight + boundaryWeight
	if sum < 0.999 || sum > 1.001 {
		return nil, fmt.Errorf("ensemble weights must sum to 1, got %v", sum)
	}

	forestModel, err := NewModel(KindForest, cfg)
	if err != nil {
		return nil, err
	}
	boundaryModel, err := NewModel(KindBoundary, cfg)
	if err != nil {
		return nil, err
	}

	return &Ensemble{
		members: []*Model{forestModel, boundaryModel},
		weights: []float64{forestWeight, boundaryWeight},
	}, nil
}

// RestoreEnsemble rebuilds an ensemble from already-restored member models,
// in weight order: forest first, boundary second.
func RestoreEnsemble(forestModel, boundaryModel *Model, forestWeight, boundaryWeight float64) (*Ensemble, error) {
	if forestModel == nil || boundaryModel == nil {
		return nil, fmt.Errorf("both ensemble members are required")
	}
	sum := forestWeight + boundaryWeight
	if forestWeight <= 0 || boundaryWeight <= 0 || sum < 0.999 || sum > 1.001 {
		return nil, fmt.Errorf("ensemble weights must be positive and sum to 1")
	}
	return &Ensemble{
		members: []*Model{forestModel, boundaryModel},
		weights: []float64{forestWeight, boundaryWeight},
	}, nil
}

// Trained reports whether every member has completed a fit.
func (e *Ensemble) Trained() bool {
	for _, m := range e.members {
		if !m.Trained() {
			return false
		}
	}
	return true
}

// Members returns the member models in weight order.
func (e *Ensemble) Members() []*Model { return e.members }

// Train fits every member on the same snapshot.
func (e *Ensemble) Train(records []domain.Transaction, opts TrainOptions) error {
	for _, m := range e.members {
		if err := m.Train(records, opts); err != nil {
			return fmt.Errorf("training %s member: %w", m.Kind(), err)
		}
	}
	return nil
}

// Assess combines member verdicts: weighted sum of member risk scores, mean
// of member raw scores, flag above the High boundary, level and confidence
// recomputed from the combined scores with the standard normalizer rules.
func (e *Ensemble) Assess(records []domain.Transaction) ([]domain.RiskAssessment, error) {
	n := len(records)
	combinedRisk := make([]float64, n)
	combinedRaw := make([]float64, n)

	for i, m := range e.members {
		assessments, err := m.Assess(records)
		if err != nil {
			return nil, fmt.Errorf("%s member assessment: %w", m.Kind(), err)
		}
		for j, a := range assessments {
			combinedRisk[j] += e.weights[i] * a.RiskScore
			combinedRaw[j] += a.AnomalyScore
		}
	}
	for j := range combinedRaw {
		combinedRaw[j] /= float64(len(e.members))
	}

	conf := confidence(combinedRaw)

	out := make([]domain.RiskAssessment, n)
	for j := range records {
		isAnomaly := combinedRisk[j] > ensembleFlagThreshold
		pred := 1
		if isAnomaly {
			pred = -1
		}
		out[j] = domain.RiskAssessment{
			TransactionID: records[j].ID,
			Prediction:    pred,
			AnomalyScore:  combinedRaw[j],
			RiskScore:     combinedRisk[j],
			RiskLevel:     domain.LevelForScore(combinedRisk[j]),
			Confidence:    conf[j],
			IsAnomaly:     isAnomaly,
		}
	}
	return out, nil
}

// Explain delegates to the first member. A combined explanation is not
// defined; the first member is the representative by convention, a documented
// limitation of the ensemble.
func (e *Ensemble) Explain(records []domain.Transaction, index int) (*domain.Explanation, error) {
	if len(e.members) == 0 {
		return nil, domain.ErrUntrainedModel
	}
	return e.members[0].Explain(records, index)
}
