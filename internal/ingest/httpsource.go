package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"time"
)

// HTTPSource is a RowSource backed by a CSV export URL, such as a shared
// spreadsheet's export endpoint. Every call re-downloads the document; the
// source itself is stateless and the caller's cursor tracks progress.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source for the given CSV export URL.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// RowCount downloads the document and returns its total row count, header
// included.
func (s *HTTPSource) RowCount(ctx context.Context) (int, error) {
	rows, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Rows downloads the document and returns the rows from the given zero-based
// offset to the end.
func (s *HTTPSource) Rows(ctx context.Context, from int) ([][]string, error) {
	rows, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if from >= len(rows) {
		return nil, nil
	}
	if from < 0 {
		from = 0
	}
	return rows[from:], nil
}

func (s *HTTPSource) fetch(ctx context.Context) ([][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build source request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse source csv: %w", err)
	}
	return rows, nil
}
