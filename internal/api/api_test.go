package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/bus"
	"github.com/eelnxz09/anamoly-processing/internal/cache"
	"github.com/eelnxz09/anamoly-processing/internal/domain"
	"github.com/eelnxz09/anamoly-processing/internal/ingest"
	"github.com/eelnxz09/anamoly-processing/internal/rules"
	"github.com/eelnxz09/anamoly-processing/internal/scoring"
	"github.com/eelnxz09/anamoly-processing/internal/warehouse"
	"github.com/eelnxz09/anamoly-processing/internal/worker"
)

// createTestServer wires a full single-node stack on a temporary SQLite file.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
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

	c := cache.NewLRUCache(100)

	svc, err := scoring.NewService(domain.DetectorConfig{
		Contamination: 0.1,
		Seed:          42,
	}, ingest.DefaultMinRows, wh, c, b, engine, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	poller := worker.NewPoller(svc, time.Minute)
	t.Cleanup(poller.Stop)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, svc, poller, wh, c, engine, "test-v1")
}

// testCSV builds 12 rows: 11 with amounts in [10,50] and one clear outlier.
func testCSV() string {
	var sb strings.Builder
	sb.WriteString("transaction_id,user_id,amount,timestamp,merchant_category\n")
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	users := []string{"alice", "bob", "charlie"}
	for i := 0; i < 11; i++ {
		fmt.Fprintf(&sb, "tx-%03d,%s,%.2f,%s,grocery\n",
			i+1, users[i%len(users)], 10.0+float64(i)*4.0,
			base.Add(time.Duration(i)*time.Hour).Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "tx-outlier,alice,5000.00,%s,travel\n",
		base.Add(11*time.Hour).Format(time.RFC3339))
	return sb.String()
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestUploadEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulUpload", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/upload/csv", testCSV())

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]interface{}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp["rowsStored"].(float64) != 12 {
			t.Errorf("expected 12 rows stored, got %v", resp["rowsStored"])
		}
		if resp["source"] != "upload" {
			t.Errorf("expected source 'upload', got %v", resp["source"])
		}
	})

	t.Run("RejectsSmallBatch", func(t *testing.T) {
		small := "transaction_id,user_id,amount,timestamp\ntx-1,alice,10.00,2024-03-10T09:00:00Z\n"
		rr := doRequest(t, server, http.MethodPost, "/upload/csv", small)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}

		var resp map[string]interface{}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		violations, ok := resp["violations"].([]interface{})
		if !ok || len(violations) == 0 {
			t.Errorf("expected violations in response, got %s", rr.Body.String())
		}
	})

	t.Run("RejectsMissingColumns", func(t *testing.T) {
		bad := "foo,bar\n1,2\n"
		rr := doRequest(t, server, http.MethodPost, "/upload/csv", bad)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ListRejectsUntrainedModel", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/transactions", "")

		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("StatisticsBeforeTraining", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/statistics", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("statistics failed: %d %s", rr.Code, rr.Body.String())
		}

		var resp StatisticsResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse statistics: %v", err)
		}
		if resp.TotalTransactions != 12 {
			t.Errorf("expected 12 transactions, got %d", resp.TotalTransactions)
		}
		if resp.RiskSummary.Assessed != 0 || resp.RiskSummary.Flagged != 0 {
			t.Errorf("expected empty risk summary before training, got %+v", resp.RiskSummary)
		}
	})
}

func TestScoringLifecycle(t *testing.T) {
	server := createTestServer(t)

	t.Run("AnalyzeBeforeTraining", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/analyze", "")

		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("TrainWithoutData", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/train", "")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("EmptyStatistics", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/statistics", "")

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("UploadTrainAnalyze", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/upload/csv", testCSV())
		if rr.Code != http.StatusCreated {
			t.Fatalf("upload failed: %d %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodPost, "/train", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("train failed: %d %s", rr.Code, rr.Body.String())
		}

		var trainResp scoring.TrainResult
		if err := json.Unmarshal(rr.Body.Bytes(), &trainResp); err != nil {
			t.Fatalf("failed to parse train response: %v", err)
		}
		if trainResp.Rows != 12 {
			t.Errorf("expected 12 training rows, got %d", trainResp.Rows)
		}

		rr = doRequest(t, server, http.MethodGet, "/analyze", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("analyze failed: %d %s", rr.Code, rr.Body.String())
		}

		var resp AnalyzeResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse analyze response: %v", err)
		}
		if resp.Count != 12 {
			t.Errorf("expected 12 assessments, got %d", resp.Count)
		}
		for _, a := range resp.Assessments {
			if a.RiskScore < 0 || a.RiskScore > 100 {
				t.Errorf("risk score %f out of [0,100] for %s", a.RiskScore, a.TransactionID)
			}
		}
	})

	t.Run("AnalyzeWithUserFilter", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/analyze?user_id=bob", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("analyze failed: %d %s", rr.Code, rr.Body.String())
		}

		var resp AnalyzeResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		for _, a := range resp.Assessments {
			if !strings.HasPrefix(a.TransactionID, "tx-") {
				t.Errorf("unexpected transaction %s", a.TransactionID)
			}
		}
		if resp.Count == 0 || resp.Count >= 12 {
			t.Errorf("expected a strict subset of assessments, got %d", resp.Count)
		}
	})

	t.Run("AnalyzeRejectsBadDate", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/analyze?start_date=whenever", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ListTransactions", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/transactions?limit=5", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("list failed: %d %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Transactions []ScoredTransaction `json:"transactions"`
			Count        int                 `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 5 {
			t.Errorf("expected 5 transactions, got %d", resp.Count)
		}
		for _, tx := range resp.Transactions {
			if tx.RiskLevel == "" {
				t.Errorf("expected a risk level on %s", tx.ID)
			}
			if tx.RiskScore < 0 || tx.RiskScore > 100 {
				t.Errorf("risk score %f out of [0,100] for %s", tx.RiskScore, tx.ID)
			}
		}
	})

	t.Run("ListTransactionsByRiskLevel", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/transactions?risk_level=Low", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("list failed: %d %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Transactions []ScoredTransaction `json:"transactions"`
			Count        int                 `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count >= 12 {
			t.Errorf("expected risk level filter to narrow the listing, got %d", resp.Count)
		}
		for _, tx := range resp.Transactions {
			if tx.RiskLevel != domain.RiskLow {
				t.Errorf("expected only Low rows, got %s for %s", tx.RiskLevel, tx.ID)
			}
		}
	})

	t.Run("ListTransactionsRejectsBadRiskLevel", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/transactions?risk_level=Extreme", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ExplainTransaction", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/transactions/tx-outlier/explain", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("explain failed: %d %s", rr.Code, rr.Body.String())
		}

		var resp domain.Explanation
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse explanation: %v", err)
		}
		if resp.TransactionID != "tx-outlier" {
			t.Errorf("expected tx-outlier, got %s", resp.TransactionID)
		}
		if len(resp.TopReasons) == 0 {
			t.Error("expected at least one reason")
		}
	})

	t.Run("ExplainUnknownTransaction", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/transactions/tx-missing/explain", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/statistics", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("statistics failed: %d %s", rr.Code, rr.Body.String())
		}

		var stats StatisticsResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
			t.Fatalf("failed to parse statistics: %v", err)
		}
		if stats.TotalTransactions != 12 {
			t.Errorf("expected 12 transactions, got %d", stats.TotalTransactions)
		}
		if stats.RiskSummary.Assessed != 12 {
			t.Errorf("expected 12 assessed rows in risk summary, got %d", stats.RiskSummary.Assessed)
		}
		total := 0
		for _, n := range stats.RiskSummary.Distribution {
			total += n
		}
		if total != 12 {
			t.Errorf("expected distribution to cover 12 rows, got %d", total)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateRule", func(t *testing.T) {
		body := `{"id":"rule-high","name":"High amount","expression":"amount > 4000.0","reason":"Unusually large amount","enabled":true}`
		rr := doRequest(t, server, http.MethodPost, "/rules", body)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/rules", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("list failed: %d", rr.Code)
		}

		var resp struct {
			Rules []domain.ScreeningRule `json:"rules"`
			Count int                    `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || resp.Rules[0].ID != "rule-high" {
			t.Errorf("expected the created rule, got %+v", resp)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/rules/rule-high", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("GetMissingRule", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/rules/rule-nope", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("RejectsInvalidExpression", func(t *testing.T) {
		body := `{"id":"rule-bad","name":"Bad","expression":"amount +","enabled":true}`
		rr := doRequest(t, server, http.MethodPost, "/rules", body)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ReloadRules", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/rules/reload", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestSourceEndpoints(t *testing.T) {
	server := createTestServer(t)

	csvData := testCSV()
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(csvData))
	}))
	defer remote.Close()

	t.Run("RegisterSource", func(t *testing.T) {
		body := fmt.Sprintf(`{"name":"budget","url":"%s"}`, remote.URL)
		rr := doRequest(t, server, http.MethodPost, "/sources", body)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]interface{}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["rows"].(float64) != 12 {
			t.Errorf("expected 12 rows pulled, got %v", resp["rows"])
		}
		if resp["watermark"].(float64) != 13 {
			t.Errorf("expected watermark 13, got %v", resp["watermark"])
		}
	})

	t.Run("ListSources", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/sources", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("list failed: %d", rr.Code)
		}

		var resp struct {
			Sources map[string]ingest.Cursor `json:"sources"`
			Count   int                      `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || resp.Sources["budget"].Watermark != 13 {
			t.Errorf("expected one source at watermark 13, got %+v", resp)
		}
	})

	t.Run("RejectsMissingFields", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/sources", `{"name":"x"}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/health", "")

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/ready", "")

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]interface{}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["ready"] != true {
			t.Error("expected ready true")
		}
		if resp["trained"] != false {
			t.Error("expected trained false before any training")
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/health", "")

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
