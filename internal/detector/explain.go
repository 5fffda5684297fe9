package detector

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

const (
	lowPercentile  = 5
	highPercentile = 95
	maxReasons     = 3
)

// fallbackReason is emitted when no single feature is extreme enough to flag.
const fallbackReason = "Multiple minor deviations from normal behavior"

// Explain identifies which derived features of the indexed record are
// statistically extreme within the batch and renders ranked human-readable
// reasons. Deterministic for a fixed model and batch.
func (m *Model) Explain(records []domain.Transaction, index int) (*domain.Explanation, error) {
	table, err := m.extract(records)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= table.NumRows() {
		return nil, fmt.Errorf("%w: index %d, table has %d rows", domain.ErrIndexOutOfRange, index, table.NumRows())
	}

	// Assessment of the target alone, per the single-row normalization rule.
	single, err := m.Assess(records[index : index+1])
	if err != nil {
		return nil, err
	}
	target := single[0]

	total := float64(table.NumRows())
	unusual := make([]domain.UnusualFeature, 0)
	for j, name := range table.Columns {
		value := table.Rows[index][j]
		below := 0
		for _, row := range table.Rows {
			if row[j] < value {
				below++
			}
		}
		percentile := 100 * float64(below) / total
		if percentile < lowPercentile || percentile > highPercentile {
			unusual = append(unusual, domain.UnusualFeature{
				Feature:    name,
				Value:      value,
				Percentile: percentile,
			})
		}
	}

	// Most extreme first: distance from the median percentile. Ties break on
	// feature name so repeat calls rank identically.
	sort.SliceStable(unusual, func(a, b int) bool {
		da := math.Abs(unusual[a].Percentile - 50)
		db := math.Abs(unusual[b].Percentile - 50)
		if da != db {
			return da > db
		}
		return unusual[a].Feature < unusual[b].Feature
	})

	reasons := make([]string, 0, maxReasons)
	for _, f := range unusual {
		if len(reasons) == maxReasons {
			break
		}
		label := strings.ReplaceAll(f.Feature, "_", " ")
		if f.Percentile > highPercentile {
			reasons = append(reasons, fmt.Sprintf("Unusually high %s (top 5%%)", label))
		} else {
			reasons = append(reasons, fmt.Sprintf("Unusually low %s (bottom 5%%)", label))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fallbackReason)
	}

	return &domain.Explanation{
		TransactionID:   records[index].ID,
		RiskScore:       target.RiskScore,
		RiskLevel:       target.RiskLevel,
		Confidence:      target.Confidence,
		IsAnomaly:       target.IsAnomaly,
		TopReasons:      reasons,
		UnusualFeatures: unusual,
	}, nil
}
