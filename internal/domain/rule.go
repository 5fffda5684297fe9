package domain

import "time"

// ScreeningRule defines an analyst-configured screening expression evaluated
// against each assessed transaction. A rule that evaluates true attaches its
// reason to the transaction's assessment.
type ScreeningRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression over transaction fields; must return bool.
	Expression string `json:"expression"`

	// Reason attached to assessments when the rule fires.
	Reason string `json:"reason"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
