// Package rules provides the CEL-Go based screening rule engine.
//
// Screening rules are analyst-configured boolean expressions evaluated against
// each assessed transaction; a rule that fires attaches its reason to the
// transaction's risk assessment alongside the model verdict.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

// Engine compiles and evaluates screening rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

type compiledRule struct {
	rule    domain.ScreeningRule
	program cel.Program
}

// NewEngine creates a screening rule engine. The CEL environment exposes the
// transaction's fields as top-level variables plus a tx map for generic
// access.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("device_type", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("is_night", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it into the engine.
func (e *Engine) ValidateRule(rule domain.ScreeningRule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(rule)
	return err
}

// LoadRule compiles and loads a single rule, replacing any previous version
// with the same ID.
func (e *Engine) LoadRule(rule domain.ScreeningRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(rule)
	if err != nil {
		return err
	}
	e.compiled[rule.ID] = compiled
	return nil
}

// ReloadRules replaces the loaded rule set wholesale. Disabled rules are
// skipped. A compile failure aborts the reload and leaves the previous set
// active.
func (e *Engine) ReloadRules(rules []domain.ScreeningRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.compiled = next
	return nil
}

// Screen evaluates every loaded rule against the transaction and returns the
// reasons of the rules that fired, ordered by rule name. An expression that
// fails at evaluation time is skipped, not fatal; rules are screening aids,
// never gates.
func (e *Engine) Screen(ctx context.Context, t domain.Transaction) []string {
	e.mu.RLock()
	loaded := make([]*compiledRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		loaded = append(loaded, c)
	}
	e.mu.RUnlock()

	if len(loaded) == 0 {
		return nil
	}

	sort.Slice(loaded, func(a, b int) bool {
		return loaded[a].rule.Name < loaded[b].rule.Name
	})

	hour := t.Timestamp.Hour()
	dow := (int(t.Timestamp.Weekday()) + 6) % 7

	activation := map[string]any{
		"tx": map[string]any{
			"id":                t.ID,
			"user_id":           t.UserID,
			"amount":            t.Amount,
			"merchant_category": t.MerchantCategory,
			"location":          t.Location,
			"device_type":       t.DeviceType,
		},
		"amount":            t.Amount,
		"user_id":           t.UserID,
		"merchant_category": t.MerchantCategory,
		"location":          t.Location,
		"device_type":       t.DeviceType,
		"hour":              hour,
		"day_of_week":       dow,
		"is_weekend":        dow >= 5,
		"is_night":          hour >= 22 || hour <= 6,
	}

	var hits []string
	for _, c := range loaded {
		out, _, err := c.program.ContextEval(ctx, activation)
		if err != nil {
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			hits = append(hits, c.rule.Reason)
		}
	}
	return hits
}

// Count returns the number of loaded rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the currently loaded rule definitions.
func (e *Engine) LoadedRules() []domain.ScreeningRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.ScreeningRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.rule)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Close clears the loaded rule set.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledRule)
	return nil
}

func (e *Engine) compile(rule domain.ScreeningRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}
