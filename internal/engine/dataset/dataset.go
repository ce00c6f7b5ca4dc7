// Package dataset loads event tables from comma-separated input and projects
// them onto a model's declared feature schema.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/crimson-sun/edrdash/internal/model"
)

// ErrEmptyInput is returned by Load when the stream holds no header row.
var ErrEmptyInput = errors.New("dataset: empty input")

// Load parses a CSV stream with a header row into a Table. Every row must
// have as many fields as the header.
func Load(r io.Reader) (*model.Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: read header: %w", err)
	}
	cols := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := normalizeHeader(h, i == 0)
		if name == "" {
			return nil, fmt.Errorf("dataset: column %d has an empty name", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("dataset: duplicate column %q", name)
		}
		seen[name] = true
		cols[i] = name
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: %w", err)
		}
		rows = append(rows, rec)
	}
	return &model.Table{Columns: cols, Rows: rows}, nil
}

// normalizeHeader trims whitespace, drops a UTF-8 byte order mark on the first
// column and puts the name in NFC so that visually identical names match the
// model's schema.
func normalizeHeader(h string, first bool) string {
	if first {
		h = strings.TrimPrefix(h, "\ufeff")
	}
	return norm.NFC.String(strings.TrimSpace(h))
}
