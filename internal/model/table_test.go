package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithColumnsAppends(t *testing.T) {
	tbl := &Table{
		Columns: []string{"dur", "proto"},
		Rows:    [][]string{{"0.1", "tcp"}, {"2.5", "udp"}},
		Source:  SourceSample,
	}

	out := tbl.WithColumns(
		[]string{ColumnPrediction, ColumnMITRETag},
		[][]string{{"0", "Normal Activity"}, {"3", "DoS → Resource Exhaustion"}},
	)

	assert.Equal(t, []string{"dur", "proto", "Prediction", "MITRE_Tag"}, out.Columns)
	assert.Equal(t, []string{"2.5", "udp", "3", "DoS → Resource Exhaustion"}, out.Rows[1])
	assert.Equal(t, SourceSample, out.Source)

	// The original table is untouched.
	assert.Equal(t, []string{"dur", "proto"}, tbl.Columns)
	assert.Len(t, tbl.Rows[0], 2)
}

func TestWithColumnsReplacesExisting(t *testing.T) {
	tbl := &Table{
		Columns: []string{"Prediction", "dur"},
		Rows:    [][]string{{"9", "0.1"}},
	}

	out := tbl.WithColumns([]string{ColumnPrediction}, [][]string{{"0"}})

	require.Equal(t, []string{"dur", "Prediction"}, out.Columns)
	assert.Equal(t, []string{"0.1", "0"}, out.Rows[0])
}

func TestWithColumnsPadsShortRows(t *testing.T) {
	tbl := &Table{
		Columns: []string{"dur", "proto"},
		Rows:    [][]string{{"0.1"}},
	}

	out := tbl.WithColumns([]string{ColumnPrediction}, [][]string{{"0"}})

	assert.Equal(t, []string{"0.1", "", "0"}, out.Rows[0])
}

func TestHeadClamps(t *testing.T) {
	tbl := &Table{Columns: []string{"a"}, Rows: [][]string{{"1"}, {"2"}}}
	assert.Len(t, tbl.Head(10), 2)
	assert.Len(t, tbl.Head(1), 1)
	assert.Equal(t, -1, tbl.ColumnIndex("missing"))
	assert.Equal(t, 0, tbl.ColumnIndex("a"))

	var empty *Table
	assert.Equal(t, 0, empty.Len())
}
