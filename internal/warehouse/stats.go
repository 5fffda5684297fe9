package warehouse

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/domain"
)

// computeStats scans the merged transaction set inside the store transaction
// and derives the aggregate snapshot. O(total size) per store, acceptable for
// moderate-volume periodic ingestion.
func (w *SQLWarehouse) computeStats(ctx context.Context, tx *sql.Tx, now time.Time) (*domain.WarehouseStats, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id, amount, timestamp, source FROM transactions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.WarehouseStats{
		LastUpdated: now,
		Sources:     make(map[string]int),
	}

	users := make(map[string]struct{})
	var amounts []float64
	var minTS, maxTS time.Time

	for rows.Next() {
		var userID, source string
		var amount float64
		var ts time.Time
		if err := rows.Scan(&userID, &amount, &ts, &source); err != nil {
			return nil, err
		}

		stats.TotalTransactions++
		users[userID] = struct{}{}
		stats.Sources[source]++
		amounts = append(amounts, amount)

		if minTS.IsZero() || ts.Before(minTS) {
			minTS = ts
		}
		if maxTS.IsZero() || ts.After(maxTS) {
			maxTS = ts
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.UniqueUsers = len(users)
	stats.DateRange = domain.DateRange{Start: minTS, End: maxTS}
	stats.AmountStats = amountMoments(amounts)
	return stats, nil
}

func amountMoments(amounts []float64) domain.AmountStats {
	if len(amounts) == 0 {
		return domain.AmountStats{}
	}

	var out domain.AmountStats
	out.Min = amounts[0]
	out.Max = amounts[0]
	for _, a := range amounts {
		out.Total += a
		if a < out.Min {
			out.Min = a
		}
		if a > out.Max {
			out.Max = a
		}
	}
	out.Mean = out.Total / float64(len(amounts))

	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		out.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		out.Median = sorted[mid]
	}

	if len(amounts) > 1 {
		var sq float64
		for _, a := range amounts {
			d := a - out.Mean
			sq += d * d
		}
		out.Std = math.Sqrt(sq / float64(len(amounts)-1))
	}
	return out
}
