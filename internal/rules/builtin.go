package rules

import "github.com/eelnxz09/anamoly-processing/internal/domain"

// BuiltinRules returns the default screening rule set loaded when the
// warehouse has no analyst-configured rules yet.
func BuiltinRules() []domain.ScreeningRule {
	return []domain.ScreeningRule{
		{
			ID:          "builtin-high-amount",
			Name:        "High amount",
			Description: "Flags transactions above the manual review threshold",
			Expression:  `amount > 10000.0`,
			Reason:      "Amount exceeds manual review threshold",
			Enabled:     true,
		},
		{
			ID:          "builtin-night-activity",
			Name:        "Night activity",
			Description: "Flags large transactions during night hours",
			Expression:  `is_night && amount > 1000.0`,
			Reason:      "Large transaction during night hours",
			Enabled:     true,
		},
		{
			ID:          "builtin-unknown-user",
			Name:        "Unknown user",
			Description: "Flags transactions ingested without a user identity",
			Expression:  `user_id == "unknown"`,
			Reason:      "Transaction has no associated user",
			Enabled:     true,
		},
	}
}
