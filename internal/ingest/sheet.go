package ingest

import (
	"context"
	"fmt"
)

// RowSource is a pull-based external row provider, e.g. a shared spreadsheet.
// The source is authoritative for its own total row count; the caller polls
// RowCount and fetches only the delta beyond its watermark.
type RowSource interface {
	// RowCount returns the source's current total row count, header included.
	RowCount(ctx context.Context) (int, error)

	// Rows returns all rows from the given zero-based offset to the end.
	Rows(ctx context.Context, from int) ([][]string, error)
}

// Cursor tracks incremental-fetch progress against a RowSource. Watermark is
// the count of rows already consumed, header included. Header is captured on
// the first fetch and reused verbatim for every later delta; it is never
// re-read from the source once established.
type Cursor struct {
	Watermark int      `json:"watermark"`
	Header    []string `json:"header,omitempty"`
}

// FetchIncremental pulls the rows beyond the cursor's watermark. When the
// source reports no rows past the watermark the frame is empty and the cursor
// is returned unchanged.
func FetchIncremental(ctx context.Context, src RowSource, cur Cursor) (Frame, Cursor, error) {
	total, err := src.RowCount(ctx)
	if err != nil {
		return Frame{}, cur, fmt.Errorf("failed to read source row count: %w", err)
	}
	if total <= cur.Watermark {
		return Frame{Header: cur.Header}, cur, nil
	}

	rows, err := src.Rows(ctx, cur.Watermark)
	if err != nil {
		return Frame{}, cur, fmt.Errorf("failed to fetch rows beyond watermark %d: %w", cur.Watermark, err)
	}

	next := Cursor{Watermark: total, Header: cur.Header}
	if next.Header == nil {
		if len(rows) == 0 {
			return Frame{}, cur, fmt.Errorf("source reported %d rows but returned none", total)
		}
		next.Header = rows[0]
		rows = rows[1:]
	}

	return Frame{Header: next.Header, Rows: rows}, next, nil
}
