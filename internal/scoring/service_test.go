package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/bus"
	"github.com/eelnxz09/anamoly-processing/internal/cache"
	"github.com/eelnxz09/anamoly-processing/internal/detector"
	"github.com/eelnxz09/anamoly-processing/internal/domain"
	"github.com/eelnxz09/anamoly-processing/internal/ingest"
	"github.com/eelnxz09/anamoly-processing/internal/rules"
	"github.com/eelnxz09/anamoly-processing/internal/warehouse"
)

func testService(t *testing.T, cfg domain.DetectorConfig) (*Service, domain.Warehouse) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "scoring-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	wh, err := warehouse.New(domain.WarehouseConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create warehouse: %v", err)
	}
	t.Cleanup(func() { wh.Close() })

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	svc, err := NewService(cfg, ingest.DefaultMinRows, wh, cache.NewLRUCache(100), b, engine,
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, wh
}

// outlierFrame builds 12 transactions: 11 with amounts in [10,50] and one
// with amount 5000.
func outlierFrame() ingest.Frame {
	header := []string{"transaction_id", "user_id", "amount", "timestamp", "merchant_category"}
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	users := []string{"alice", "bob", "charlie"}

	var rows [][]string
	for i := 0; i < 11; i++ {
		rows = append(rows, []string{
			fmt.Sprintf("tx-%03d", i),
			users[i%3],
			fmt.Sprintf("%.2f", 10.0+float64(i*4)),
			base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			"grocery",
		})
	}
	rows = append(rows, []string{
		"tx-outlier",
		"alice",
		"5000.00",
		base.Add(12 * time.Hour).Format(time.RFC3339),
		"online",
	})
	return ingest.Frame{Header: header, Rows: rows}
}

func TestServiceLifecycle(t *testing.T) {
	cfg := domain.DetectorConfig{
		Contamination: 0.1,
		Seed:          42,
	}
	svc, _ := testService(t, cfg)
	ctx := context.Background()

	t.Run("AnalyzeBeforeTraining", func(t *testing.T) {
		_, err := svc.Analyze(ctx, domain.Filter{})
		if !errors.Is(err, domain.ErrUntrainedModel) {
			t.Errorf("expected ErrUntrainedModel, got: %v", err)
		}
	})

	t.Run("TrainWithoutData", func(t *testing.T) {
		_, err := svc.Train(ctx, detector.TrainOptions{})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("expected ValidationError for empty warehouse, got: %v", err)
		}
	})

	t.Run("StoreRejectsSmallBatch", func(t *testing.T) {
		frame := outlierFrame()
		frame.Rows = frame.Rows[:5]

		_, err := svc.StoreBatch(ctx, frame, "upload")
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got: %v", err)
		}
	})

	t.Run("StoreTrainAnalyze", func(t *testing.T) {
		n, err := svc.StoreBatch(ctx, outlierFrame(), "upload")
		if err != nil {
			t.Fatalf("StoreBatch failed: %v", err)
		}
		if n != 12 {
			t.Errorf("expected 12 rows stored, got %d", n)
		}

		before := time.Now().UTC()
		result, err := svc.Train(ctx, detector.TrainOptions{})
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}
		if result.Rows != 12 {
			t.Errorf("expected 12 training rows, got %d", result.Rows)
		}
		if result.TrainedAt.Before(before) || result.TrainedAt.After(time.Now().UTC()) {
			t.Errorf("expected TrainedAt to stamp the training run, got %s", result.TrainedAt)
		}
		if !svc.Trained() {
			t.Error("expected service to report trained")
		}

		assessments, err := svc.Analyze(ctx, domain.Filter{})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if len(assessments) != 12 {
			t.Fatalf("expected 12 assessments, got %d", len(assessments))
		}

		var outlier *domain.RiskAssessment
		for i := range assessments {
			a := &assessments[i]
			if a.RiskScore < 0 || a.RiskScore > 100 {
				t.Errorf("risk score out of bounds: %.2f", a.RiskScore)
			}
			if a.Confidence < 0 || a.Confidence > 100 {
				t.Errorf("confidence out of bounds: %.2f", a.Confidence)
			}
			if a.TransactionID == "tx-outlier" {
				outlier = a
			}
		}
		if outlier == nil {
			t.Fatal("outlier assessment missing")
		}
		if outlier.RiskLevel != domain.RiskHigh && outlier.RiskLevel != domain.RiskCritical {
			t.Errorf("expected High or Critical for outlier, got %s (score %.2f)",
				outlier.RiskLevel, outlier.RiskScore)
		}
		if !outlier.IsAnomaly {
			t.Error("expected outlier to be flagged anomalous")
		}
	})

	t.Run("AnalyzeIsCached", func(t *testing.T) {
		first, err := svc.Analyze(ctx, domain.Filter{UserID: "alice"})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		second, err := svc.Analyze(ctx, domain.Filter{UserID: "alice"})
		if err != nil {
			t.Fatalf("cached Analyze failed: %v", err)
		}
		if len(first) != len(second) {
			t.Fatalf("cached result differs in length: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i].RiskScore != second[i].RiskScore {
				t.Errorf("cached risk score differs at %d", i)
			}
		}
	})

	t.Run("ExplainDeterminism", func(t *testing.T) {
		first, err := svc.Explain(ctx, "tx-outlier")
		if err != nil {
			t.Fatalf("Explain failed: %v", err)
		}
		second, err := svc.Explain(ctx, "tx-outlier")
		if err != nil {
			t.Fatalf("second Explain failed: %v", err)
		}

		if len(first.TopReasons) == 0 {
			t.Fatal("expected at least one reason for outlier")
		}
		if len(first.TopReasons) != len(second.TopReasons) {
			t.Fatalf("reason count differs across calls")
		}
		for i := range first.TopReasons {
			if first.TopReasons[i] != second.TopReasons[i] {
				t.Errorf("reason %d differs: %q vs %q", i, first.TopReasons[i], second.TopReasons[i])
			}
		}
	})

	t.Run("ExplainUnknownTransaction", func(t *testing.T) {
		_, err := svc.Explain(ctx, "no-such-tx")
		if !errors.Is(err, domain.ErrIndexOutOfRange) {
			t.Errorf("expected ErrIndexOutOfRange, got: %v", err)
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		stats, err := svc.Statistics(ctx)
		if err != nil {
			t.Fatalf("Statistics failed: %v", err)
		}
		if stats == nil || stats.TotalTransactions != 12 {
			t.Errorf("unexpected statistics: %+v", stats)
		}
	})
}

func TestServiceRules(t *testing.T) {
	cfg := domain.DetectorConfig{Contamination: 0.1, Seed: 42}
	svc, _ := testService(t, cfg)
	ctx := context.Background()

	if _, err := svc.StoreBatch(ctx, outlierFrame(), "upload"); err != nil {
		t.Fatalf("StoreBatch failed: %v", err)
	}
	if _, err := svc.Train(ctx, detector.TrainOptions{}); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	// Warm the assessment cache so the rule hits below prove that saving a
	// rule invalidates it.
	if _, err := svc.Analyze(ctx, domain.Filter{}); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	err := svc.SaveRule(ctx, domain.ScreeningRule{
		ID:         "rule-big",
		Name:       "Big amount",
		Expression: `amount > 4000.0`,
		Reason:     "Amount exceeds review threshold",
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	assessments, err := svc.Analyze(ctx, domain.Filter{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	for _, a := range assessments {
		if a.TransactionID == "tx-outlier" {
			if len(a.RuleHits) == 0 || a.RuleHits[0] != "Amount exceeds review threshold" {
				t.Errorf("expected rule hit on outlier, got %v", a.RuleHits)
			}
		} else if len(a.RuleHits) != 0 {
			t.Errorf("unexpected rule hits on %s: %v", a.TransactionID, a.RuleHits)
		}
	}

	t.Run("RejectsInvalidRule", func(t *testing.T) {
		err := svc.SaveRule(ctx, domain.ScreeningRule{
			ID:         "rule-bad",
			Name:       "Bad",
			Expression: `amount +`,
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for invalid expression")
		}
	})
}

func TestServiceDeltaRefreshesAnalysis(t *testing.T) {
	cfg := domain.DetectorConfig{Contamination: 0.1, Seed: 42}
	svc, _ := testService(t, cfg)
	ctx := context.Background()

	if _, err := svc.StoreBatch(ctx, outlierFrame(), "upload"); err != nil {
		t.Fatalf("StoreBatch failed: %v", err)
	}
	if _, err := svc.Train(ctx, detector.TrainOptions{}); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	before, err := svc.Analyze(ctx, domain.Filter{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(before) != 12 {
		t.Fatalf("expected 12 assessments, got %d", len(before))
	}
	stats, err := svc.Statistics(ctx)
	if err != nil || stats == nil {
		t.Fatalf("Statistics failed: %v", err)
	}

	delta := ingest.Frame{
		Header: []string{"transaction_id", "user_id", "amount", "timestamp", "merchant_category"},
		Rows: [][]string{
			{"tx-delta", "bob", "62.00", "2024-03-11T10:00:00Z", "grocery"},
		},
	}

	t.Run("AcceptsSingleRow", func(t *testing.T) {
		n, err := svc.StoreDelta(ctx, delta, "sheet:budget")
		if err != nil {
			t.Fatalf("StoreDelta failed: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 row stored, got %d", n)
		}
	})

	t.Run("AnalyzeSeesDelta", func(t *testing.T) {
		after, err := svc.Analyze(ctx, domain.Filter{})
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if len(after) != 13 {
			t.Errorf("expected 13 assessments after delta, got %d", len(after))
		}
	})

	t.Run("StatisticsSeeDelta", func(t *testing.T) {
		stats, err := svc.Statistics(ctx)
		if err != nil || stats == nil {
			t.Fatalf("Statistics failed: %v", err)
		}
		if stats.TotalTransactions != 13 {
			t.Errorf("expected 13 transactions after delta, got %d", stats.TotalTransactions)
		}
	})
}

func TestServiceArtifactRoundTrip(t *testing.T) {
	modelDir := t.TempDir()
	cfg := domain.DetectorConfig{
		Contamination: 0.1,
		Seed:          42,
		ModelDir:      modelDir,
	}
	svc, wh := testService(t, cfg)
	ctx := context.Background()

	if _, err := svc.StoreBatch(ctx, outlierFrame(), "upload"); err != nil {
		t.Fatalf("StoreBatch failed: %v", err)
	}
	result, err := svc.Train(ctx, detector.TrainOptions{})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(result.Artifacts))
	}

	// A fresh service over the same warehouse restores the persisted model.
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer engine.Close()

	restored, err := NewService(cfg, ingest.DefaultMinRows, wh, cache.NewLRUCache(100), nil, engine,
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if restored.Trained() {
		t.Fatal("fresh service should start untrained")
	}

	if err := restored.LoadLatestArtifact(); err != nil {
		t.Fatalf("LoadLatestArtifact failed: %v", err)
	}
	if !restored.Trained() {
		t.Fatal("expected restored service to be trained")
	}

	assessments, err := restored.Analyze(ctx, domain.Filter{})
	if err != nil {
		t.Fatalf("Analyze after restore failed: %v", err)
	}
	if len(assessments) != 12 {
		t.Errorf("expected 12 assessments after restore, got %d", len(assessments))
	}
}

func TestServiceEnsemble(t *testing.T) {
	cfg := domain.DetectorConfig{
		Contamination:  0.1,
		Seed:           42,
		UseEnsemble:    true,
		ForestWeight:   0.6,
		BoundaryWeight: 0.4,
	}
	svc, _ := testService(t, cfg)
	ctx := context.Background()

	if _, err := svc.StoreBatch(ctx, outlierFrame(), "upload"); err != nil {
		t.Fatalf("StoreBatch failed: %v", err)
	}
	result, err := svc.Train(ctx, detector.TrainOptions{})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if result.Kind != "ensemble" {
		t.Errorf("expected ensemble kind, got %s", result.Kind)
	}

	assessments, err := svc.Analyze(ctx, domain.Filter{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	var found bool
	for _, a := range assessments {
		if a.RiskScore < 0 || a.RiskScore > 100 {
			t.Errorf("risk score out of bounds: %.2f", a.RiskScore)
		}
		if a.TransactionID == "tx-outlier" {
			found = true
			if a.RiskLevel != domain.RiskHigh && a.RiskLevel != domain.RiskCritical {
				t.Errorf("expected High or Critical for outlier, got %s (score %.2f)",
					a.RiskLevel, a.RiskScore)
			}
			if !a.IsAnomaly {
				t.Error("expected outlier flagged by ensemble")
			}
		}
	}
	if !found {
		t.Fatal("outlier assessment missing")
	}
}
