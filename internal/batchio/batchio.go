// Package batchio reads tabular batches from CSV and XLSX files into rows
// keyed by header, and writes resolved batches back out as CSV.
package batchio

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
)

// Table is a header plus the rows keyed by that header.
type Table struct {
	Header []string
	Rows   []model.Row
}

// ReadFile loads a batch, choosing the parser by file extension.
func ReadFile(ctx context.Context, path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "batchio: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, CSVOptions{HasHeader: true, TrimSpace: true})
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{})
	default:
		return nil, eris.Errorf("batchio: unsupported file type %q", filepath.Ext(path))
	}
}

// newTable builds a Table from a header row and data records. Records
// shorter than the header get empty cells; extra cells are dropped.
func newTable(header []string, records [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, eris.New("batchio: missing header row")
	}
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			return nil, eris.Errorf("batchio: empty header in column %d", i+1)
		}
		if seen[h] {
			return nil, eris.Errorf("batchio: duplicate header %q", h)
		}
		seen[h] = true
		header[i] = h
	}

	t := &Table{Header: header, Rows: make([]model.Row, 0, len(records))}
	for _, rec := range records {
		if isBlank(rec) {
			continue
		}
		row := make(model.Row, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
