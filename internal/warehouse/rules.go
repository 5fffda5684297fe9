package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

// SaveRule upserts a screening rule by ID. CreatedAt is preserved across
// updates; UpdatedAt is always stamped.
func (w *SQLWarehouse) SaveRule(ctx context.Context, rule domain.ScreeningRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}
	if rule.Expression == "" {
		return fmt.Errorf("%w: rule expression is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	query := w.rebind(`
		INSERT INTO screening_rules (
			id, name, description, expression, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`)
	_, err := w.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Expression, rule.Reason,
		boolToInt(rule.Enabled), rule.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}

// ListRules returns screening rules ordered by name.
func (w *SQLWarehouse) ListRules(ctx context.Context, enabledOnly bool) ([]domain.ScreeningRule, error) {
	query := `
		SELECT id, name, description, expression, reason, enabled, created_at, updated_at
		FROM screening_rules
	`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY name"

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScreeningRule
	for rows.Next() {
		var r domain.ScreeningRule
		var enabled int
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Description, &r.Expression, &r.Reason,
			&enabled, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}

	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
