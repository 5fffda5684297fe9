package ingest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

// DefaultMinRows is the minimum batch size accepted by the validation gate.
// Model training on fewer rows produces meaningless per-user aggregates.
const DefaultMinRows = 10

// timestampLayouts are tried in order when parsing raw timestamp cells.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Validate checks a raw frame against the ingestion contract: amount and
// timestamp columns present, every amount numeric and non-negative, every
// timestamp parseable, and at least minRows data rows. All violations are
// collected and returned together in a single ValidationError.
func Validate(f Frame, minRows int) error {
	if minRows <= 0 {
		minRows = DefaultMinRows
	}

	var violations []string

	amountCol := f.columnIndex("amount")
	tsCol := f.columnIndex("timestamp")

	if amountCol < 0 {
		violations = append(violations, "missing required column: amount")
	}
	if tsCol < 0 {
		violations = append(violations, "missing required column: timestamp")
	}

	if len(f.Rows) < minRows {
		violations = append(violations,
			fmt.Sprintf("insufficient data: need at least %d rows, got %d", minRows, len(f.Rows)))
	}

	if amountCol >= 0 {
		var nonNumeric, negative int
		for _, row := range f.Rows {
			v, err := strconv.ParseFloat(strings.TrimSpace(f.cell(row, amountCol)), 64)
			if err != nil {
				nonNumeric++
				continue
			}
			if v < 0 {
				negative++
			}
		}
		if nonNumeric > 0 {
			violations = append(violations,
				fmt.Sprintf("amount contains %d non-numeric values", nonNumeric))
		}
		if negative > 0 {
			violations = append(violations,
				fmt.Sprintf("amount contains %d negative values", negative))
		}
	}

	if tsCol >= 0 {
		var unparseable int
		for _, row := range f.Rows {
			if _, err := parseTimestamp(f.cell(row, tsCol)); err != nil {
				unparseable++
			}
		}
		if unparseable > 0 {
			violations = append(violations,
				fmt.Sprintf("timestamp contains %d unparseable values", unparseable))
		}
	}

	if len(violations) > 0 {
		return domain.NewValidationError(violations)
	}
	return nil
}

// Clean converts a validated frame into transaction records: amounts and
// timestamps parsed, missing user IDs replaced with the unknown sentinel,
// missing transaction IDs derived, and the batch sorted by timestamp
// ascending.
func Clean(f Frame) ([]domain.Transaction, error) {
	amountCol := f.columnIndex("amount")
	tsCol := f.columnIndex("timestamp")
	if amountCol < 0 || tsCol < 0 {
		return nil, fmt.Errorf("%w: amount and timestamp", domain.ErrMissingColumn)
	}

	idCol := f.columnIndex("transaction_id")
	userCol := f.columnIndex("user_id")
	merchantCol := f.columnIndex("merchant_category")
	locationCol := f.columnIndex("location")
	deviceCol := f.columnIndex("device_type")

	records := make([]domain.Transaction, 0, len(f.Rows))
	for i, row := range f.Rows {
		amount, err := strconv.ParseFloat(strings.TrimSpace(f.cell(row, amountCol)), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid amount %q", i, f.cell(row, amountCol))
		}
		ts, err := parseTimestamp(f.cell(row, tsCol))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid timestamp %q", i, f.cell(row, tsCol))
		}

		t := domain.Transaction{
			ID:               strings.TrimSpace(f.cell(row, idCol)),
			UserID:           strings.TrimSpace(f.cell(row, userCol)),
			Amount:           amount,
			Timestamp:        ts,
			MerchantCategory: strings.TrimSpace(f.cell(row, merchantCol)),
			Location:         strings.TrimSpace(f.cell(row, locationCol)),
			DeviceType:       strings.TrimSpace(f.cell(row, deviceCol)),
		}
		t.Normalize()
		records = append(records, t)
	}

	sort.SliceStable(records, func(a, b int) bool {
		return records[a].Timestamp.Before(records[b].Timestamp)
	})
	return records, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", raw)
}
