// Package feature derives fixed-width numeric feature tables from raw
// transaction records.
package feature

import (
	"fmt"
	"math"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

// Table is a fixed-column numeric table. Rows align one-for-one with the
// source records; Columns records the ordering for reuse at inference time.
type Table struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// NumRows returns the number of rows in the table.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// NumCols returns the number of columns in the table.
func (t *Table) NumCols() int {
	return len(t.Columns)
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	vals := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		vals[i] = row[idx]
	}
	return vals, true
}

// userStats is the read-only per-user aggregate joined back onto each row.
type userStats struct {
	mean  float64
	std   float64
	count int
}

// ratioEpsilon offsets the per-user mean when dividing, so a zero mean never
// divides by zero.
const ratioEpsilon = 1e-5

// Extract derives the feature table for a batch of records. The encoder
// provides stable categorical codes: a fresh encoder learns codes in
// first-seen order, a frozen one (restored from a trained model) reuses the
// mapping learned at training time.
//
// Calendar features are zero-filled for records without a timestamp. Returns
// ErrMissingColumn when the batch carries no usable amount column.
func Extract(records []domain.Transaction, enc *Encoder) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: amount", domain.ErrMissingColumn)
	}
	if !hasAmount(records) {
		return nil, fmt.Errorf("%w: amount", domain.ErrMissingColumn)
	}
	if enc == nil {
		enc = NewEncoder()
	}

	hasTS := false
	for _, r := range records {
		if !r.Timestamp.IsZero() {
			hasTS = true
			break
		}
	}

	// Per-user aggregates computed once for the batch, then joined per row.
	stats := aggregateByUser(records)

	catCols := enc.columnsFor(records)

	columns := []string{"amount", "amount_log"}
	if hasTS {
		columns = append(columns, "hour", "day_of_week", "day_of_month", "is_weekend", "is_night")
	}
	columns = append(columns, "user_avg_amount", "user_std_amount", "user_tx_count", "amount_vs_user_avg")
	for _, c := range catCols {
		columns = append(columns, c+"_encoded")
	}

	rows := make([][]float64, len(records))
	for i, r := range records {
		amount := r.Amount
		if math.IsNaN(amount) {
			amount = 0
		}

		row := make([]float64, 0, len(columns))
		row = append(row, amount, math.Log1p(amount))

		if hasTS {
			if r.Timestamp.IsZero() {
				row = append(row, 0, 0, 0, 0, 0)
			} else {
				hour := float64(r.Timestamp.Hour())
				// Monday=0 .. Sunday=6
				dow := float64((int(r.Timestamp.Weekday()) + 6) % 7)
				dom := float64(r.Timestamp.Day())
				weekend := 0.0
				if dow >= 5 {
					weekend = 1.0
				}
				night := 0.0
				if hour >= 22 || hour <= 6 {
					night = 1.0
				}
				row = append(row, hour, dow, dom, weekend, night)
			}
		}

		us := stats[userKey(r)]
		row = append(row, us.mean, us.std, float64(us.count), amount/(us.mean+ratioEpsilon))

		for _, c := range catCols {
			row = append(row, float64(enc.encode(c, categoricalValue(r, c))))
		}

		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				row[j] = 0
			}
		}
		rows[i] = row
	}

	return &Table{Columns: columns, Rows: rows}, nil
}

func hasAmount(records []domain.Transaction) bool {
	for _, r := range records {
		if !math.IsNaN(r.Amount) {
			return true
		}
	}
	return false
}

func userKey(r domain.Transaction) string {
	if r.UserID == "" {
		return domain.UnknownUser
	}
	return r.UserID
}

// aggregateByUser computes mean, sample std, and count of amounts per user.
// Std is 0 when undefined (single observation).
func aggregateByUser(records []domain.Transaction) map[string]userStats {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range records {
		k := userKey(r)
		a := r.Amount
		if math.IsNaN(a) {
			a = 0
		}
		sums[k] += a
		counts[k]++
	}

	means := make(map[string]float64, len(sums))
	for k, s := range sums {
		means[k] = s / float64(counts[k])
	}

	sqDiffs := make(map[string]float64)
	for _, r := range records {
		k := userKey(r)
		a := r.Amount
		if math.IsNaN(a) {
			a = 0
		}
		d := a - means[k]
		sqDiffs[k] += d * d
	}

	out := make(map[string]userStats, len(sums))
	for k := range sums {
		std := 0.0
		if counts[k] > 1 {
			std = math.Sqrt(sqDiffs[k] / float64(counts[k]-1))
		}
		out[k] = userStats{mean: means[k], std: std, count: counts[k]}
	}
	return out
}

func categoricalValue(r domain.Transaction, attr string) string {
	switch attr {
	case "merchant_category":
		return r.MerchantCategory
	case "location":
		return r.Location
	case "device_type":
		return r.DeviceType
	}
	return ""
}
