// Package ingest parses, validates, and cleans raw transaction rows arriving
// from CSV uploads and pull-based sheet sources.
package ingest

// Frame is a raw tabular batch: a header row naming columns and string-valued
// data rows aligned to it.
type Frame struct {
	Header []string
	Rows   [][]string
}

// NumRows returns the number of data rows in the frame.
func (f Frame) NumRows() int {
	return len(f.Rows)
}

// columnIndex returns the position of the named column, or -1.
func (f Frame) columnIndex(name string) int {
	for i, h := range f.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// cell returns the value at (row, col), tolerating ragged rows.
func (f Frame) cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
