package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eelnxz09/anamoly-processing/internal/detector"
	"github.com/eelnxz09/anamoly-processing/internal/domain"
	"github.com/eelnxz09/anamoly-processing/internal/ingest"
	"github.com/eelnxz09/anamoly-processing/internal/rules"
	"github.com/eelnxz09/anamoly-processing/internal/scoring"
	"github.com/eelnxz09/anamoly-processing/internal/worker"
)

const (
	// defaultListLimit caps the transaction listing when no limit is given.
	defaultListLimit = 100
	// riskSummaryLimit caps the rows scored for the statistics risk summary.
	riskSummaryLimit = 1000
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc       *scoring.Service
	poller    *worker.Poller
	warehouse domain.Warehouse
	cache     domain.Cache
	engine    *rules.Engine
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(svc *scoring.Service, poller *worker.Poller, warehouse domain.Warehouse, cache domain.Cache, engine *rules.Engine, version string) *Handler {
	return &Handler{
		svc:       svc,
		poller:    poller,
		warehouse: warehouse,
		cache:     cache,
		engine:    engine,
		version:   version,
	}
}

// UploadCSV handles POST /upload/csv. The body is either a raw CSV document
// or a multipart form with a "file" part.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "multipart upload requires a 'file' part",
			})
			return
		}
		defer file.Close()
		body = file
	}

	frame, err := ingest.ParseCSV(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}

	stored, err := h.svc.StoreBatch(ctx, frame, source)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rowsStored": stored,
		"source":     source,
	})
}

// TrainRequest is the optional request body for POST /train.
type TrainRequest struct {
	UseReducer bool `json:"useReducer"`
	Components int  `json:"components"`
}

// Train handles POST /train. The model is fit on the warehouse's full
// transaction set and swapped in wholesale.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TrainRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	result, err := h.svc.Train(ctx, detector.TrainOptions{
		UseReducer: req.UseReducer,
		Components: req.Components,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// AnalyzeResponse is the response for GET /analyze.
type AnalyzeResponse struct {
	Assessments  []domain.RiskAssessment `json:"assessments"`
	Count        int                     `json:"count"`
	Flagged      int                     `json:"flagged"`
	Distribution domain.RiskDistribution `json:"distribution"`
}

// Analyze handles GET /analyze. Query parameters narrow the scored set:
// user_id, start_date, end_date (inclusive), limit.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := filterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	assessments, err := h.svc.Analyze(ctx, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	flagged := 0
	for _, a := range assessments {
		if a.IsAnomaly {
			flagged++
		}
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Assessments:  assessments,
		Count:        len(assessments),
		Flagged:      flagged,
		Distribution: domain.Distribution(assessments),
	})
}

// ScoredTransaction pairs a stored transaction with its assessment under
// the active model.
type ScoredTransaction struct {
	domain.Transaction
	RiskScore  float64          `json:"riskScore"`
	RiskLevel  domain.RiskLevel `json:"riskLevel"`
	Confidence float64          `json:"confidence"`
	IsAnomaly  bool             `json:"isAnomaly"`
	RuleHits   []string         `json:"ruleHits,omitempty"`
}

// ListTransactions handles GET /transactions with the same query filters as
// /analyze, plus risk_level. Each row carries its current risk assessment;
// the risk_level filter applies after scoring.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := filterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}

	var level domain.RiskLevel
	if raw := r.URL.Query().Get("risk_level"); raw != "" {
		level, err = parseRiskLevel(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
	}

	records, err := h.warehouse.Get(ctx, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	assessments, err := h.svc.Analyze(ctx, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	byID := make(map[string]domain.RiskAssessment, len(assessments))
	for _, a := range assessments {
		byID[a.TransactionID] = a
	}

	scored := make([]ScoredTransaction, 0, len(records))
	for _, rec := range records {
		a := byID[rec.ID]
		if level != "" && a.RiskLevel != level {
			continue
		}
		scored = append(scored, ScoredTransaction{
			Transaction: rec,
			RiskScore:   a.RiskScore,
			RiskLevel:   a.RiskLevel,
			Confidence:  a.Confidence,
			IsAnomaly:   a.IsAnomaly,
			RuleHits:    a.RuleHits,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": scored,
		"count":        len(scored),
	})
}

// ExplainTransaction handles GET /transactions/{id}/explain.
func (h *Handler) ExplainTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	explanation, err := h.svc.Explain(ctx, txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, explanation)
}

// RiskSummary sketches the risk profile of the most recent transactions.
// Zero-valued until a model has been trained.
type RiskSummary struct {
	Assessed     int                     `json:"assessed"`
	Flagged      int                     `json:"flagged"`
	Distribution domain.RiskDistribution `json:"distribution"`
}

// StatisticsResponse combines the warehouse snapshot with a risk summary.
type StatisticsResponse struct {
	domain.WarehouseStats
	RiskSummary RiskSummary `json:"riskSummary"`
}

// GetStatistics handles GET /statistics. When a model is active the response
// includes a risk summary over the most recent rows, capped so a large
// warehouse is sampled rather than scored in full.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.svc.Statistics(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if stats == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "warehouse is empty",
		})
		return
	}

	var assessments []domain.RiskAssessment
	if h.svc.Trained() {
		assessments, err = h.svc.Analyze(ctx, domain.Filter{Limit: riskSummaryLimit})
		if err != nil {
			writeError(w, err)
			return
		}
	}

	flagged := 0
	for _, a := range assessments {
		if a.IsAnomaly {
			flagged++
		}
	}

	writeJSON(w, http.StatusOK, StatisticsResponse{
		WarehouseStats: *stats,
		RiskSummary: RiskSummary{
			Assessed:     len(assessments),
			Flagged:      flagged,
			Distribution: domain.Distribution(assessments),
		},
	})
}

// ListRules returns all screening rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a loaded screening rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a screening rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Reason      string `json:"reason"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates, persists, and hot-loads a screening rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := domain.ScreeningRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	if err := h.svc.SaveRule(ctx, rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": rule,
	})
}

// ReloadRules reloads all enabled rules from the warehouse into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ReloadRules(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	count := h.engine.Count()
	slog.Info("rules reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// RegisterSourceRequest is the request body for registering a polled row
// source.
type RegisterSourceRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RegisterSource handles POST /sources. The initial pull happens
// synchronously; later deltas arrive on the poll interval.
func (h *Handler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.poller == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "source polling not available",
		})
		return
	}

	var req RegisterSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Name == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and url are required",
		})
		return
	}

	rows, err := h.poller.Register(ctx, req.Name, ingest.NewHTTPSource(req.URL))
	if err != nil {
		writeError(w, err)
		return
	}

	cursor := h.poller.Cursors()[req.Name]
	slog.Info("source registered", "name", req.Name, "rows", rows)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"name":      req.Name,
		"rows":      rows,
		"watermark": cursor.Watermark,
	})
}

// ListSources handles GET /sources, returning each registered source's
// cursor position.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "source polling not available",
		})
		return
	}

	cursors := h.poller.Cursors()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": cursors,
		"count":   len(cursors),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.warehouse != nil {
		if err := h.warehouse.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic. A server
// without a trained model is still ready; scoring endpoints report the
// untrained state themselves.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":   true,
		"trained": h.svc.Trained(),
	})
}

// filterFromQuery builds a warehouse filter from request query parameters.
// Date-only bounds are widened so the end date covers its whole day.
func filterFromQuery(r *http.Request) (domain.Filter, error) {
	var filter domain.Filter
	q := r.URL.Query()

	filter.UserID = q.Get("user_id")

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}

	if raw := q.Get("start_date"); raw != "" {
		ts, _, err := parseQueryTime(raw)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &ts
	}

	if raw := q.Get("end_date"); raw != "" {
		ts, dateOnly, err := parseQueryTime(raw)
		if err != nil {
			return filter, err
		}
		if dateOnly {
			ts = ts.Add(24*time.Hour - time.Nanosecond)
		}
		filter.EndDate = &ts
	}

	return filter, nil
}

func parseRiskLevel(raw string) (domain.RiskLevel, error) {
	switch level := domain.RiskLevel(raw); level {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskCritical:
		return level, nil
	}
	return "", errors.New("risk_level must be Low, Medium, High, or Critical")
}

func parseQueryTime(raw string) (time.Time, bool, error) {
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts, true, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, false, nil
	}
	return time.Time{}, false, errors.New("dates must be YYYY-MM-DD or RFC3339")
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":      "validation failed",
			"violations": verr.Violations,
		})
	case errors.Is(err, domain.ErrUntrainedModel):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrIndexOutOfRange):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
