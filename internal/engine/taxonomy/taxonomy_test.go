package taxonomy

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTags(t *testing.T) {
	tax := Default()

	tests := []struct {
		id   int
		want string
	}{
		{0, "Normal Activity"},
		{1, "Analysis → Reverse Engineering"},
		{2, "Backdoor → Command & Control"},
		{3, "DoS → Resource Exhaustion"},
		{4, "Exploits → Privilege Escalation"},
		{5, "Fuzzers → Vulnerability Discovery"},
		{6, "Generic → Unknown Signature"},
		{7, "Reconnaissance → Info Collection"},
		{8, "Shellcode → Remote Execution"},
		{9, "Worms → Lateral Movement"},
		{10, Unclassified},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tax.Tag(tt.id), "class %d", tt.id)
	}
}

func TestTagIsTotal(t *testing.T) {
	tax := Default()
	for _, id := range []int{-1, 11, 42, math.MaxInt, math.MinInt} {
		assert.Equal(t, Unclassified, tax.Tag(id), "class %d", id)
		assert.False(t, tax.IsThreat(id))
		assert.Equal(t, SeverityWarning, tax.Severity(id))
	}
}

func TestNormalIsNeverAThreat(t *testing.T) {
	tax := Default()
	assert.False(t, tax.IsThreat(0))
	assert.False(t, tax.IsThreat(UnclassifiedID))
	for id := 1; id <= 9; id++ {
		assert.True(t, tax.IsThreat(id), "class %d", id)
	}
}

func TestNormalTag(t *testing.T) {
	assert.Equal(t, "Normal Activity", Default().NormalTag())

	tax, err := New([]Entry{{ID: 0, Category: "Flood"}, {ID: 4, Category: "Benign", Normal: true}})
	require.NoError(t, err)
	assert.Equal(t, "Benign", tax.NormalTag())
}

func TestEntriesOrdered(t *testing.T) {
	entries := Default().Entries()
	require.Len(t, entries, 11)
	for i, e := range entries {
		assert.Equal(t, i, e.ID)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]Entry{{ID: 1, Category: "DoS"}})
	assert.ErrorContains(t, err, "exactly one normal")

	_, err = New([]Entry{{ID: 0, Category: "Normal", Normal: true}, {ID: 0, Category: "Dup"}})
	assert.ErrorContains(t, err, "duplicate")

	_, err = New([]Entry{{ID: 0, Normal: true}})
	assert.ErrorContains(t, err, "no category")

	tax, err := New([]Entry{{ID: 0, Category: "Normal", Normal: true}, {ID: 1, Category: "DoS"}})
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, tax.Severity(1))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.yaml")
	content := `labels:
  - id: 0
    category: Benign
    normal: true
  - id: 1
    category: Botnet
    technique: Command & Control
    severity: critical
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tax, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Benign", tax.Tag(0))
	assert.Equal(t, "Botnet → Command & Control", tax.Tag(1))
	assert.Equal(t, SeverityCritical, tax.Severity(1))
	assert.Equal(t, Unclassified, tax.Tag(2))
	assert.Equal(t, "Benign", tax.NormalTag())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("labels: [:"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
