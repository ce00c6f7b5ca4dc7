package model

// Column names appended to a table after detection. They never take part in
// inference or explanation.
const (
	ColumnPrediction = "Prediction"
	ColumnMITRETag   = "MITRE_Tag"
)

// Source describes where a table was loaded from.
type Source string

const (
	SourceUpload Source = "upload"
	SourceSample Source = "sample"
	SourceFile   Source = "file"
	SourceURL    Source = "url"
)

// Table is a batch of event records: a header plus rows of raw cell values.
// A record's identity is its row position.
type Table struct {
	Columns []string
	Rows    [][]string
	Source  Source
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Head returns up to n leading rows.
func (t *Table) Head(n int) [][]string {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// WithColumns returns a copy of the table with the given columns appended.
// values[i] holds the new cells for row i. Existing columns with the same
// name are replaced rather than duplicated. Short rows are padded with empty
// cells. The receiver is not modified.
func (t *Table) WithColumns(names []string, values [][]string) *Table {
	cols := make([]string, 0, len(t.Columns)+len(names))
	var keep []int
	for i, c := range t.Columns {
		if contains(names, c) {
			continue
		}
		cols = append(cols, c)
		keep = append(keep, i)
	}
	cols = append(cols, names...)

	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]string, 0, len(cols))
		for _, k := range keep {
			out = append(out, row[k])
		}
		if i < len(values) {
			out = append(out, values[i]...)
		}
		rows[i] = out
	}
	return &Table{Columns: cols, Rows: rows, Source: t.Source}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FeatureMatrix is the numeric projection of a table onto a model's declared
// feature schema. It is the exact input to both inference and explanation.
type FeatureMatrix struct {
	Names  []string
	Values [][]float64
}

// Len returns the number of rows.
func (m FeatureMatrix) Len() int { return len(m.Values) }

// Width returns the number of features.
func (m FeatureMatrix) Width() int { return len(m.Names) }
