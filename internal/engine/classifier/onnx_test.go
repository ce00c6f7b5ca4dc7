package classifier

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/crimson-sun/edrdash/internal/model"
)

const testONNXPath = "../../../models/model.onnx"

func skipIfNoONNX(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(testONNXPath); os.IsNotExist(err) {
		t.Skip("ONNX model not found; export one with skl2onnx to models/model.onnx")
	}
	if _, err := os.Stat("../../../models/libonnxruntime.so"); os.IsNotExist(err) {
		t.Skip("ONNX Runtime shared library not found in models/")
	}
}

func TestONNXOpenAndPredict(t *testing.T) {
	skipIfNoONNX(t)

	m, err := Open(testONNXPath)
	require.NoError(t, err)
	defer m.Close()

	features := m.Features()
	require.NotEmpty(t, features)

	rows := make([][]float64, 3)
	for i := range rows {
		rows[i] = make([]float64, len(features))
	}
	preds, err := m.Predict(model.FeatureMatrix{Names: features, Values: rows})
	require.NoError(t, err)
	assert.Len(t, preds, 3)

	t.Logf("features: %v", features)
	t.Logf("classes: %v", m.Classes())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"dur", "sbytes"}, splitList(" dur, ,sbytes "))
	assert.Nil(t, splitList(""))
}

func tensorInfo(name string, dt ort.TensorElementDataType, dims ...int64) ort.InputOutputInfo {
	return ort.InputOutputInfo{
		Name:         name,
		OrtValueType: ort.ONNXTypeTensor,
		DataType:     dt,
		Dimensions:   ort.NewShape(dims...),
	}
}

func TestValidateONNXSignature(t *testing.T) {
	input := []ort.InputOutputInfo{tensorInfo("float_input", ort.TensorElementDataTypeFloat, -1, 12)}
	outputs := []ort.InputOutputInfo{
		tensorInfo("label", ort.TensorElementDataTypeInt64, -1),
		tensorInfo("probabilities", ort.TensorElementDataTypeFloat, -1, 11),
	}

	in, label, prob, nc, err := validateONNXSignature(input, outputs, 12)
	require.NoError(t, err)
	assert.Equal(t, "float_input", in)
	assert.Equal(t, "label", label)
	assert.Equal(t, "probabilities", prob)
	assert.Equal(t, int64(11), nc)

	_, _, prob, nc, err = validateONNXSignature(input, outputs[:1], 12)
	require.NoError(t, err)
	assert.Empty(t, prob)
	assert.Zero(t, nc)
}

func TestValidateONNXSignatureRejects(t *testing.T) {
	label := []ort.InputOutputInfo{tensorInfo("label", ort.TensorElementDataTypeInt64, -1)}

	tests := []struct {
		name    string
		inputs  []ort.InputOutputInfo
		outputs []ort.InputOutputInfo
		want    error
	}{
		{"no inputs", nil, label, ErrInvalidModel},
		{"int input", []ort.InputOutputInfo{tensorInfo("x", ort.TensorElementDataTypeInt64, -1, 12)}, label, ErrInvalidModel},
		{"rank 3 input", []ort.InputOutputInfo{tensorInfo("x", ort.TensorElementDataTypeFloat, -1, 12, 1)}, label, ErrInvalidModel},
		{"width mismatch", []ort.InputOutputInfo{tensorInfo("x", ort.TensorElementDataTypeFloat, -1, 8)}, label, model.ErrSchemaMismatch},
		{"no outputs", []ort.InputOutputInfo{tensorInfo("x", ort.TensorElementDataTypeFloat, -1, 12)}, nil, ErrInvalidModel},
		{"float label", []ort.InputOutputInfo{tensorInfo("x", ort.TensorElementDataTypeFloat, -1, 12)},
			[]ort.InputOutputInfo{tensorInfo("label", ort.TensorElementDataTypeFloat, -1)}, ErrInvalidModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, _, err := validateONNXSignature(tt.inputs, tt.outputs, 12)
			assert.True(t, errors.Is(err, tt.want), "err = %v", err)
		})
	}
}

func TestResolveClasses(t *testing.T) {
	// Declared classes must match the probability width.
	_, _, _, err := resolveClasses([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, "probabilities", 10)
	assert.True(t, errors.Is(err, ErrInvalidModel), "err = %v", err)

	classes, prob, nc, err := resolveClasses([]int{0, 3, 6}, "probabilities", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 6}, classes)
	assert.Equal(t, "probabilities", prob)
	assert.Equal(t, int64(3), nc)

	// Dynamic width is sized from the declared classes.
	classes, prob, nc, err = resolveClasses([]int{1, 2}, "probabilities", -1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, classes)
	assert.Equal(t, "probabilities", prob)
	assert.Equal(t, int64(2), nc)

	// No declared classes defaults to 0..C-1.
	classes, _, _, err = resolveClasses(nil, "probabilities", 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, classes)

	// Neither side gives a width: probabilities are dropped.
	classes, prob, nc, err = resolveClasses(nil, "probabilities", -1)
	require.NoError(t, err)
	assert.Nil(t, classes)
	assert.Empty(t, prob)
	assert.Zero(t, nc)

	// Without a probability output the declared classes are kept as is.
	classes, prob, _, err = resolveClasses([]int{0, 1, 2}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, classes)
	assert.Empty(t, prob)
}
