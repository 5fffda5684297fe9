package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ParseCSV reads an uploaded CSV document into a Frame. The first row is the
// header; ragged data rows are tolerated and padded at access time.
func ParseCSV(r io.Reader) (Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	all, err := reader.ReadAll()
	if err != nil {
		return Frame{}, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(all) == 0 {
		return Frame{}, fmt.Errorf("csv document is empty")
	}

	header := make([]string, len(all[0]))
	for i, h := range all[0] {
		header[i] = strings.TrimSpace(h)
	}

	return Frame{Header: header, Rows: all[1:]}, nil
}
