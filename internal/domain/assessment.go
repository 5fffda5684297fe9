package domain

// RiskLevel is the discrete category a risk score falls into.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// LevelForScore maps a 0-100 risk score to its level. Boundaries are
// left-inclusive: exactly 30 is Medium, 60 is High, 85 is Critical.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score < 30:
		return RiskLow
	case score < 60:
		return RiskMedium
	case score < 85:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RiskAssessment is the derived scoring output for one transaction.
// Ephemeral: recomputed per request, persisted only by callers that need an
// audit trail.
type RiskAssessment struct {
	TransactionID string    `json:"transactionId"`
	Prediction    int       `json:"prediction"`   // -1 anomalous, +1 normal
	AnomalyScore  float64   `json:"anomalyScore"` // model-native, lower = more anomalous
	RiskScore     float64   `json:"riskScore"`    // 0-100, higher = riskier
	RiskLevel     RiskLevel `json:"riskLevel"`
	Confidence    float64   `json:"confidence"` // 0-100 boundary-distance proxy
	IsAnomaly     bool      `json:"isAnomaly"`

	// Screening-rule hits appended during analysis, if any.
	RuleHits []string `json:"ruleHits,omitempty"`
}

// RiskDistribution counts assessments per level.
type RiskDistribution map[RiskLevel]int

// Distribution tallies risk levels across a batch of assessments.
func Distribution(assessments []RiskAssessment) RiskDistribution {
	dist := RiskDistribution{RiskLow: 0, RiskMedium: 0, RiskHigh: 0, RiskCritical: 0}
	for _, a := range assessments {
		dist[a.RiskLevel]++
	}
	return dist
}

// UnusualFeature describes one statistically extreme feature value behind an
// explanation.
type UnusualFeature struct {
	Feature    string  `json:"feature"`
	Value      float64 `json:"value"`
	Percentile float64 `json:"percentile"`
}

// Explanation bundles the assessment of a single transaction with its ranked
// unusual features and rendered reasons.
type Explanation struct {
	TransactionID   string           `json:"transactionId"`
	RiskScore       float64          `json:"riskScore"`
	RiskLevel       RiskLevel        `json:"riskLevel"`
	Confidence      float64          `json:"confidence"`
	IsAnomaly       bool             `json:"isAnomaly"`
	TopReasons      []string         `json:"topReasons"`
	UnusualFeatures []UnusualFeature `json:"unusualFeatures"`
}
