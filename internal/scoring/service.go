// Package scoring owns the currently active trained model and orchestrates
// the full analysis pipeline: ingest, train, assess, screen, explain.
//
// The active model is an explicit handle, initialized untrained and replaced
// wholesale by each training run. Train and StoreBatch serialize on the
// service mutex; assessment and explanation take a read lock and run
// concurrently.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/detector"
	"github.com/eelnxz09/anamoly-processing/internal/domain"
	"github.com/eelnxz09/anamoly-processing/internal/ingest"
	"github.com/eelnxz09/anamoly-processing/internal/rules"
)

const (
	statsCacheKey  = "warehouse:stats"
	assessCacheTTL = 5 * time.Minute
)

// activeModel abstracts over a single model and the two-member ensemble.
type activeModel interface {
	Train(records []domain.Transaction, opts detector.TrainOptions) error
	Assess(records []domain.Transaction) ([]domain.RiskAssessment, error)
	Explain(records []domain.Transaction, index int) (*domain.Explanation, error)
	Trained() bool
}

// Service wires the warehouse, cache, bus, rule engine, and active model into
// the operations the API exposes.
type Service struct {
	mu         sync.RWMutex
	model      activeModel
	generation int64

	cfg       domain.DetectorConfig
	minRows   int
	warehouse domain.Warehouse
	cache     domain.Cache
	bus       domain.EventBus
	rules     *rules.Engine
	logger    *slog.Logger
}

// NewService creates the scoring service with an untrained active model.
func NewService(
	cfg domain.DetectorConfig,
	minRows int,
	warehouse domain.Warehouse,
	cache domain.Cache,
	bus domain.EventBus,
	engine *rules.Engine,
	logger *slog.Logger,
) (*Service, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	if minRows <= 0 {
		minRows = ingest.DefaultMinRows
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		model:     model,
		cfg:       cfg,
		minRows:   minRows,
		warehouse: warehouse,
		cache:     cache,
		bus:       bus,
		rules:     engine,
		logger:    logger,
	}, nil
}

func newModel(cfg domain.DetectorConfig) (activeModel, error) {
	capCfg := detector.CapabilityConfig{
		Contamination: cfg.Contamination,
		Seed:          cfg.Seed,
	}
	if cfg.UseEnsemble {
		return detector.NewEnsemble(capCfg, cfg.ForestWeight, cfg.BoundaryWeight)
	}
	return detector.NewModel(detector.KindForest, capCfg)
}

// Trained reports whether the active model has completed a fit.
func (s *Service) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.Trained()
}

// StoreBatch validates, cleans, and persists a raw frame, then announces the
// stored batch on the bus. Returns the number of rows stored.
func (s *Service) StoreBatch(ctx context.Context, frame ingest.Frame, source string) (int, error) {
	return s.store(ctx, frame, source, s.minRows)
}

// StoreDelta persists an incremental pull from a polled source. Deltas can
// be arbitrarily small; the upload batch-size floor does not apply.
func (s *Service) StoreDelta(ctx context.Context, frame ingest.Frame, source string) (int, error) {
	return s.store(ctx, frame, source, 1)
}

func (s *Service) store(ctx context.Context, frame ingest.Frame, source string, minRows int) (int, error) {
	if err := ingest.Validate(frame, minRows); err != nil {
		return 0, err
	}
	records, err := ingest.Clean(frame)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	err = s.warehouse.Store(ctx, records, source)
	if err == nil {
		// New data invalidates cached assessment batches.
		s.generation++
	}
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to store batch: %w", err)
	}

	s.invalidateStats(ctx)
	s.publish(ctx, domain.TopicBatchStored, map[string]any{
		"source": source,
		"rows":   len(records),
	})

	s.logger.Info("batch stored",
		"source", source,
		"rows", len(records),
	)
	return len(records), nil
}

// TrainResult summarizes a completed training run.
type TrainResult struct {
	Kind      string    `json:"kind"`
	Rows      int       `json:"rows"`
	TrainedAt time.Time `json:"trainedAt"`
	Artifacts []string  `json:"artifacts,omitempty"`
}

// Train fits a fresh model on the warehouse's current transaction set and
// swaps it in as the active model. The previous model is discarded wholesale;
// there is no partial update.
func (s *Service) Train(ctx context.Context, opts detector.TrainOptions) (*TrainResult, error) {
	records, err := s.warehouse.Get(ctx, domain.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load training snapshot: %w", err)
	}
	if len(records) < s.minRows {
		return nil, domain.NewValidationError([]string{
			fmt.Sprintf("insufficient data: need at least %d rows, got %d", s.minRows, len(records)),
		})
	}

	fresh, err := newModel(s.cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := fresh.Train(records, opts); err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}

	artifacts, err := s.saveArtifacts(fresh)
	if err != nil {
		s.logger.Warn("failed to persist model artifact", "error", err)
	}

	s.mu.Lock()
	s.model = fresh
	s.generation++
	s.mu.Unlock()

	result := &TrainResult{
		Kind:      s.modelKind(),
		Rows:      len(records),
		TrainedAt: start.UTC(),
		Artifacts: artifacts,
	}

	s.publish(ctx, domain.TopicModelTrained, result)
	s.logger.Info("model trained",
		"kind", result.Kind,
		"rows", result.Rows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// Analyze scores the warehouse rows matching the filter with the active
// model, screens each transaction against the loaded rules, and publishes any
// critical verdicts. Results are cached per filter until the next training
// run or store.
func (s *Service) Analyze(ctx context.Context, filter domain.Filter) ([]domain.RiskAssessment, error) {
	s.mu.RLock()
	model := s.model
	gen := s.generation
	s.mu.RUnlock()

	if !model.Trained() {
		return nil, domain.ErrUntrainedModel
	}

	cacheKey := s.analyzeCacheKey(gen, filter)
	if cached := s.cacheGet(ctx, cacheKey); cached != nil {
		var out []domain.RiskAssessment
		if err := json.Unmarshal(cached, &out); err == nil {
			return out, nil
		}
	}

	records, err := s.warehouse.Get(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	assessments, err := model.Assess(records)
	if err != nil {
		return nil, err
	}

	for i := range assessments {
		if s.rules != nil {
			assessments[i].RuleHits = s.rules.Screen(ctx, records[i])
		}
		if assessments[i].RiskLevel == domain.RiskCritical {
			s.publish(ctx, domain.TopicRiskCritical, assessments[i])
		}
	}

	if payload, err := json.Marshal(assessments); err == nil {
		s.cacheSet(ctx, cacheKey, payload)
	}
	return assessments, nil
}

// Explain generates the unusual-feature explanation for one stored
// transaction, scored in the context of the full warehouse snapshot.
func (s *Service) Explain(ctx context.Context, transactionID string) (*domain.Explanation, error) {
	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()

	if !model.Trained() {
		return nil, domain.ErrUntrainedModel
	}

	records, err := s.warehouse.Get(ctx, domain.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	index := -1
	for i, r := range records {
		if r.ID == transactionID {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: transaction %s not found", domain.ErrIndexOutOfRange, transactionID)
	}

	return model.Explain(records, index)
}

// Statistics returns the warehouse aggregate snapshot, serving repeated reads
// from cache.
func (s *Service) Statistics(ctx context.Context) (*domain.WarehouseStats, error) {
	if cached := s.cacheGet(ctx, statsCacheKey); cached != nil {
		var stats domain.WarehouseStats
		if err := json.Unmarshal(cached, &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := s.warehouse.Statistics(ctx)
	if err != nil || stats == nil {
		return stats, err
	}

	if payload, err := json.Marshal(stats); err == nil {
		s.cacheSet(ctx, statsCacheKey, payload)
	}
	return stats, nil
}

// ReloadRules replaces the screening rule set from the warehouse, falling
// back to the builtin rules when none are configured.
func (s *Service) ReloadRules(ctx context.Context) error {
	if s.rules == nil {
		return nil
	}

	stored, err := s.warehouse.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if len(stored) == 0 {
		stored = rules.BuiltinRules()
	}

	if err := s.rules.ReloadRules(stored); err != nil {
		return err
	}

	// Cached assessments carry rule hits from the previous rule set.
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()

	s.logger.Info("screening rules loaded", "count", s.rules.Count())
	return nil
}

// SaveRule validates, persists, and activates a screening rule.
func (s *Service) SaveRule(ctx context.Context, rule domain.ScreeningRule) error {
	if s.rules != nil {
		if err := s.rules.ValidateRule(rule); err != nil {
			return domain.NewValidationError([]string{err.Error()})
		}
	}
	if err := s.warehouse.SaveRule(ctx, rule); err != nil {
		return err
	}
	return s.ReloadRules(ctx)
}

// LoadLatestArtifact restores the most recent persisted model from the model
// directory, if any. A missing directory or artifact is not an error; the
// service simply starts untrained.
func (s *Service) LoadLatestArtifact() error {
	if s.cfg.ModelDir == "" {
		return nil
	}

	if s.cfg.UseEnsemble {
		return s.loadLatestEnsemble()
	}

	path := s.latestArtifact("model_")
	if path == "" {
		return nil
	}

	model, err := detector.Load(path)
	if err != nil {
		return fmt.Errorf("failed to restore model from %s: %w", path, err)
	}

	s.mu.Lock()
	s.model = model
	s.generation++
	s.mu.Unlock()

	s.logger.Info("model restored", "path", path, "kind", model.Kind())
	return nil
}

func (s *Service) loadLatestEnsemble() error {
	forestPath := s.latestArtifact("ensemble_forest_")
	boundaryPath := s.latestArtifact("ensemble_boundary_")
	if forestPath == "" || boundaryPath == "" {
		return nil
	}

	forestModel, err := detector.Load(forestPath)
	if err != nil {
		return fmt.Errorf("failed to restore forest member from %s: %w", forestPath, err)
	}
	boundaryModel, err := detector.Load(boundaryPath)
	if err != nil {
		return fmt.Errorf("failed to restore boundary member from %s: %w", boundaryPath, err)
	}

	ensemble, err := detector.RestoreEnsemble(forestModel, boundaryModel, s.cfg.ForestWeight, s.cfg.BoundaryWeight)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.model = ensemble
	s.generation++
	s.mu.Unlock()

	s.logger.Info("ensemble restored", "forest", forestPath, "boundary", boundaryPath)
	return nil
}

func (s *Service) saveArtifacts(model activeModel) ([]string, error) {
	if s.cfg.ModelDir == "" {
		return nil, nil
	}
	stamp := time.Now().UTC().Format("20060102_150405")

	switch m := model.(type) {
	case *detector.Model:
		path := filepath.Join(s.cfg.ModelDir, fmt.Sprintf("model_%s.json", stamp))
		if err := m.Save(path); err != nil {
			return nil, err
		}
		return []string{path}, nil

	case *detector.Ensemble:
		var paths []string
		for _, member := range m.Members() {
			path := filepath.Join(s.cfg.ModelDir, fmt.Sprintf("ensemble_%s_%s.json", member.Kind(), stamp))
			if err := member.Save(path); err != nil {
				return nil, err
			}
			paths = append(paths, path)
		}
		return paths, nil
	}
	return nil, nil
}

// latestArtifact returns the lexically greatest artifact path with the given
// prefix; the timestamp format makes lexical order chronological.
func (s *Service) latestArtifact(prefix string) string {
	entries, err := os.ReadDir(s.cfg.ModelDir)
	if err != nil {
		return ""
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(s.cfg.ModelDir, names[len(names)-1])
}

func (s *Service) modelKind() string {
	if s.cfg.UseEnsemble {
		return "ensemble"
	}
	return detector.KindForest
}

func (s *Service) analyzeCacheKey(gen int64, filter domain.Filter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "assess:%d", gen)
	if filter.StartDate != nil {
		fmt.Fprintf(&b, ":s=%d", filter.StartDate.Unix())
	}
	if filter.EndDate != nil {
		fmt.Fprintf(&b, ":e=%d", filter.EndDate.Unix())
	}
	if filter.UserID != "" {
		fmt.Fprintf(&b, ":u=%s", filter.UserID)
	}
	if filter.Limit > 0 {
		fmt.Fprintf(&b, ":l=%d", filter.Limit)
	}
	return b.String()
}

func (s *Service) cacheGet(ctx context.Context, key string) []byte {
	if s.cache == nil {
		return nil
	}
	val, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil
	}
	return val
}

func (s *Service) cacheSet(ctx context.Context, key string, val []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, val, assessCacheTTL); err != nil {
		s.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, statsCacheKey)
}

func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, data); err != nil {
		s.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}
