package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

const sampleCSV = `transaction_id,user_id,amount,timestamp,merchant_category
tx-001,alice,120.50,2024-03-10T14:30:00Z,grocery
tx-002,bob,45.00,2024-03-10T15:30:00Z,online
,charlie,12.00,2024-03-10T16:30:00Z,grocery
tx-004,,88.00,2024-03-10T17:30:00Z,travel
tx-005,alice,9.99,2024-03-10T18:30:00Z,grocery
tx-006,bob,15.25,2024-03-10T19:30:00Z,online
tx-007,alice,33.00,2024-03-10T20:30:00Z,grocery
tx-008,charlie,7.50,2024-03-10T21:30:00Z,online
tx-009,bob,61.00,2024-03-10T22:30:00Z,travel
tx-010,alice,18.00,2024-03-10T23:30:00Z,grocery
`

func TestParseCSV(t *testing.T) {
	frame, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if len(frame.Header) != 5 {
		t.Errorf("expected 5 columns, got %d", len(frame.Header))
	}
	if frame.NumRows() != 10 {
		t.Errorf("expected 10 rows, got %d", frame.NumRows())
	}
}

func TestValidate(t *testing.T) {
	frame, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}

	t.Run("ValidBatch", func(t *testing.T) {
		if err := Validate(frame, DefaultMinRows); err != nil {
			t.Errorf("expected valid batch, got: %v", err)
		}
	})

	t.Run("TooFewRows", func(t *testing.T) {
		small := Frame{Header: frame.Header, Rows: frame.Rows[:5]}
		err := Validate(small, DefaultMinRows)

		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got: %v", err)
		}
		if len(verr.Violations) != 1 {
			t.Fatalf("expected 1 violation, got %d: %v", len(verr.Violations), verr.Violations)
		}
		if !strings.Contains(verr.Violations[0], "at least 10 rows") {
			t.Errorf("expected row-count violation, got %q", verr.Violations[0])
		}
	})

	t.Run("MissingColumns", func(t *testing.T) {
		bad := Frame{
			Header: []string{"user_id", "value"},
			Rows:   [][]string{{"alice", "10"}},
		}
		err := Validate(bad, DefaultMinRows)

		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got: %v", err)
		}
		joined := strings.Join(verr.Violations, "; ")
		if !strings.Contains(joined, "amount") || !strings.Contains(joined, "timestamp") {
			t.Errorf("expected both missing-column violations, got %q", joined)
		}
	})

	t.Run("CollectsAllViolations", func(t *testing.T) {
		bad := Frame{
			Header: []string{"amount", "timestamp"},
			Rows: [][]string{
				{"-5", "2024-03-10T14:30:00Z"},
				{"oops", "not-a-date"},
			},
		}
		err := Validate(bad, DefaultMinRows)

		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got: %v", err)
		}
		joined := strings.Join(verr.Violations, "; ")
		for _, want := range []string{"rows", "non-numeric", "negative", "unparseable"} {
			if !strings.Contains(joined, want) {
				t.Errorf("expected violation mentioning %q, got %q", want, joined)
			}
		}
	})
}

func TestClean(t *testing.T) {
	frame, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}

	records, err := Clean(frame)
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("expected 10 records, got %d", len(records))
	}

	// Sorted by timestamp ascending
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.Before(records[i-1].Timestamp) {
			t.Errorf("records not sorted at index %d", i)
		}
	}

	// Missing transaction ID derived deterministically
	if records[2].ID == "" {
		t.Error("expected derived ID for row without one")
	}
	if len(records[2].ID) != 12 {
		t.Errorf("expected 12-character derived ID, got %q", records[2].ID)
	}

	// Missing user ID replaced with sentinel
	if records[3].UserID != domain.UnknownUser {
		t.Errorf("expected unknown-user sentinel, got %q", records[3].UserID)
	}
}

// fakeSource serves rows from an in-memory sheet.
type fakeSource struct {
	rows [][]string
}

func (s *fakeSource) RowCount(ctx context.Context) (int, error) {
	return len(s.rows), nil
}

func (s *fakeSource) Rows(ctx context.Context, from int) ([][]string, error) {
	if from >= len(s.rows) {
		return nil, nil
	}
	return s.rows[from:], nil
}

func TestFetchIncremental(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{rows: [][]string{
		{"amount", "timestamp"},
		{"10.00", "2024-03-10T14:30:00Z"},
		{"20.00", "2024-03-10T15:30:00Z"},
		{"30.00", "2024-03-10T16:30:00Z"},
	}}

	frame, cur, err := FetchIncremental(ctx, src, Cursor{})
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if cur.Watermark != 4 {
		t.Errorf("expected watermark 4 after first fetch, got %d", cur.Watermark)
	}
	if frame.NumRows() != 3 {
		t.Errorf("expected 3 data rows, got %d", frame.NumRows())
	}
	if len(frame.Header) != 2 || frame.Header[0] != "amount" {
		t.Errorf("expected cached header from first row, got %v", frame.Header)
	}

	// No new rows
	frame, cur, err = FetchIncremental(ctx, src, cur)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if cur.Watermark != 4 {
		t.Errorf("expected watermark unchanged at 4, got %d", cur.Watermark)
	}
	if frame.NumRows() != 0 {
		t.Errorf("expected empty delta, got %d rows", frame.NumRows())
	}

	// Append one row; only the delta comes back, header reused
	src.rows = append(src.rows, []string{"40.00", "2024-03-10T17:30:00Z"})
	frame, cur, err = FetchIncremental(ctx, src, cur)
	if err != nil {
		t.Fatalf("third fetch failed: %v", err)
	}
	if cur.Watermark != 5 {
		t.Errorf("expected watermark 5, got %d", cur.Watermark)
	}
	if frame.NumRows() != 1 {
		t.Fatalf("expected 1 new row, got %d", frame.NumRows())
	}
	if frame.Rows[0][0] != "40.00" {
		t.Errorf("expected appended row, got %v", frame.Rows[0])
	}
	if frame.Header[0] != "amount" {
		t.Errorf("expected header reused from cursor, got %v", frame.Header)
	}
}
