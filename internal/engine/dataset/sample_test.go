package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/crimson-sun/edrdash/internal/model"
)

func TestBundledSampleParses(t *testing.T) {
	tbl, err := NewLoader().Sample()
	require.NoError(t, err)

	assert.Equal(t, model.SourceSample, tbl.Source)
	assert.Greater(t, tbl.Len(), 10)
	for _, col := range []string{"dur", "sbytes", "sttl", "is_sm_ips_ports", "proto"} {
		assert.GreaterOrEqual(t, tbl.ColumnIndex(col), 0, "column %s", col)
	}
}

func TestLoadOrSampleUsesUpload(t *testing.T) {
	tbl, fb, err := NewLoader().LoadOrSample(strings.NewReader("dur\n1\n"))
	require.NoError(t, err)
	assert.Nil(t, fb)
	assert.Equal(t, model.SourceUpload, tbl.Source)
	assert.Equal(t, 1, tbl.Len())
}

func TestLoadOrSampleFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	loader := NewLoader(WithLogger(zap.New(core)))

	tbl, fb, err := loader.LoadOrSample(nil)
	require.NoError(t, err)
	require.NotNil(t, fb)
	assert.Equal(t, ReasonAbsent, fb.Reason)
	assert.Equal(t, model.SourceSample, tbl.Source)

	_, fb, err = loader.LoadOrSample(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, ReasonAbsent, fb.Reason)

	_, fb, err = loader.LoadOrSample(strings.NewReader("a,b\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, ReasonUnparseable, fb.Reason)
	assert.NotEmpty(t, fb.Detail)

	assert.Equal(t, 3, logs.FilterMessage("using sample dataset").Len())
}

func TestMalformedSampleIsFatal(t *testing.T) {
	loader := NewLoader(WithSampleData([]byte("a,b\n1\n")))

	_, _, err := loader.LoadOrSample(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedSample))

	// A valid upload never touches the broken sample.
	_, fb, err := loader.LoadOrSample(strings.NewReader("a\n1\n"))
	require.NoError(t, err)
	assert.Nil(t, fb)
}

func TestWithSampleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.csv")
	require.NoError(t, os.WriteFile(path, []byte("dur,sbytes\n1,2\n3,4\n"), 0o644))

	tbl, err := NewLoader(WithSampleFile(path)).Sample()
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	_, err = NewLoader(WithSampleFile(filepath.Join(t.TempDir(), "nope.csv"))).Sample()
	assert.True(t, errors.Is(err, ErrMalformedSample))
}
