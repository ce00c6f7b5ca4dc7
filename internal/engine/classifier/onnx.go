package classifier

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/crimson-sun/edrdash/internal/model"
)

// Custom metadata keys read from ONNX artifacts.
const (
	metaFeatureNames = "feature_names"
	metaClasses      = "classes"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXModel runs a classifier exported to ONNX (for example with skl2onnx).
// The first input takes a float32 [N, F] tensor; the first output is the
// int64 label tensor.
type ONNXModel struct {
	path       string
	session    *ort.DynamicAdvancedSession
	inputName  string
	labelName  string
	probName   string // empty when the model has no [N, C] probability tensor
	features   []string
	classes    []int
	numClasses int64
}

// onnxProbModel is returned when the artifact also emits probabilities.
type onnxProbModel struct {
	*ONNXModel
}

func openONNX(path string, o options) (Model, error) {
	libPath := o.onnxLibrary
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(path), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("classifier: onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: onnx: failed to read model info: %w", err)
	}

	features, classes, err := readONNXMetadata(path)
	if err != nil {
		return nil, err
	}
	if len(o.features) > 0 {
		features = o.features
	}
	if err := validateFeatures(features); err != nil {
		return nil, err
	}

	inputName, labelName, probName, numClasses, err := validateONNXSignature(inputs, outputs, len(features))
	if err != nil {
		return nil, err
	}
	classes, probName, numClasses, err = resolveClasses(classes, probName, numClasses)
	if err != nil {
		return nil, err
	}

	outNames := []string{labelName}
	if probName != "" {
		outNames = append(outNames, probName)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("classifier: onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(4)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputName}, outNames, opts)
	if err != nil {
		return nil, fmt.Errorf("classifier: onnx: failed to create session: %w", err)
	}

	m := &ONNXModel{
		path:       path,
		session:    session,
		inputName:  inputName,
		labelName:  labelName,
		probName:   probName,
		features:   features,
		classes:    classes,
		numClasses: numClasses,
	}
	if probName != "" {
		return &onnxProbModel{m}, nil
	}
	return m, nil
}

// readONNXMetadata pulls the feature schema and class ids from the model's
// custom metadata map, when present.
func readONNXMetadata(path string) ([]string, []int, error) {
	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, nil, fmt.Errorf("classifier: onnx: failed to read metadata: %w", err)
	}
	defer md.Destroy()

	var features []string
	if v, ok, err := md.LookupCustomMetadataMap(metaFeatureNames); err != nil {
		return nil, nil, fmt.Errorf("classifier: onnx: %w", err)
	} else if ok {
		features = splitList(v)
	}

	var classes []int
	if v, ok, err := md.LookupCustomMetadataMap(metaClasses); err != nil {
		return nil, nil, fmt.Errorf("classifier: onnx: %w", err)
	} else if ok {
		for _, s := range splitList(v) {
			id, err := strconv.Atoi(s)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: onnx classes metadata: %v", ErrInvalidModel, err)
			}
			classes = append(classes, id)
		}
	}
	return features, classes, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validateONNXSignature checks that the model takes one [N, F] float tensor
// and emits an int64 label tensor, optionally followed by a float [N, C]
// probability tensor.
func validateONNXSignature(inputs, outputs []ort.InputOutputInfo, nf int) (input, label, prob string, numClasses int64, err error) {
	if len(inputs) != 1 {
		return "", "", "", 0, fmt.Errorf("%w: onnx model has %d inputs, want 1", ErrInvalidModel, len(inputs))
	}
	in := inputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat {
		return "", "", "", 0, fmt.Errorf("%w: onnx input %q is not float32", ErrInvalidModel, in.Name)
	}
	if len(in.Dimensions) != 2 {
		return "", "", "", 0, fmt.Errorf("%w: onnx input %q has shape %v, want [N, F]", ErrInvalidModel, in.Name, in.Dimensions)
	}
	if w := in.Dimensions[1]; w > 0 && int(w) != nf {
		return "", "", "", 0, fmt.Errorf("%w: onnx input takes %d features, schema declares %d", model.ErrSchemaMismatch, w, nf)
	}

	if len(outputs) == 0 {
		return "", "", "", 0, fmt.Errorf("%w: onnx model has no outputs", ErrInvalidModel)
	}
	out := outputs[0]
	if out.OrtValueType != ort.ONNXTypeTensor || out.DataType != ort.TensorElementDataTypeInt64 {
		return "", "", "", 0, fmt.Errorf("%w: onnx output %q is not an int64 label tensor", ErrInvalidModel, out.Name)
	}
	if len(outputs) > 1 {
		p := outputs[1]
		if p.OrtValueType == ort.ONNXTypeTensor && p.DataType == ort.TensorElementDataTypeFloat && len(p.Dimensions) == 2 {
			prob = p.Name
			numClasses = p.Dimensions[1]
		}
	}
	return in.Name, out.Name, prob, numClasses, nil
}

// resolveClasses reconciles the class ids declared in metadata with the width
// of the probability tensor. A dynamic width is sized from the declared
// classes; missing classes default to 0..C-1. The probability output is
// dropped when neither gives a width.
func resolveClasses(classes []int, probName string, numClasses int64) ([]int, string, int64, error) {
	if probName == "" {
		return classes, "", 0, nil
	}
	if numClasses <= 0 {
		numClasses = int64(len(classes))
		if numClasses == 0 {
			return classes, "", 0, nil
		}
	}
	if len(classes) == 0 {
		classes = make([]int, numClasses)
		for i := range classes {
			classes[i] = i
		}
	}
	if int64(len(classes)) != numClasses {
		return nil, "", 0, fmt.Errorf("%w: onnx declares %d classes but %q has %d columns",
			ErrInvalidModel, len(classes), probName, numClasses)
	}
	return classes, probName, numClasses, nil
}

// run feeds m through the session and returns labels and, when available,
// the flat probability tensor.
func (o *ONNXModel) run(m model.FeatureMatrix) ([]int64, []float32, error) {
	n := int64(len(m.Values))
	nf := int64(len(o.features))
	flat := make([]float32, 0, n*nf)
	for _, row := range m.Values {
		for _, v := range row {
			flat = append(flat, float32(v))
		}
	}

	tIn, err := ort.NewTensor(ort.NewShape(n, nf), flat)
	if err != nil {
		return nil, nil, fmt.Errorf("classifier: onnx: failed to create input tensor: %w", err)
	}
	defer tIn.Destroy()

	tLabel, err := ort.NewEmptyTensor[int64](ort.NewShape(n))
	if err != nil {
		return nil, nil, fmt.Errorf("classifier: onnx: failed to create label tensor: %w", err)
	}
	defer tLabel.Destroy()

	outs := []ort.Value{tLabel}
	var tProb *ort.Tensor[float32]
	if o.probName != "" {
		tProb, err = ort.NewEmptyTensor[float32](ort.NewShape(n, o.numClasses))
		if err != nil {
			return nil, nil, fmt.Errorf("classifier: onnx: failed to create probability tensor: %w", err)
		}
		defer tProb.Destroy()
		outs = append(outs, tProb)
	}

	if err := o.session.Run([]ort.Value{tIn}, outs); err != nil {
		return nil, nil, fmt.Errorf("classifier: onnx: inference failed: %w", err)
	}

	// Copy data out before tensors are destroyed.
	labels := append([]int64(nil), tLabel.GetData()...)
	var probs []float32
	if tProb != nil {
		probs = append([]float32(nil), tProb.GetData()...)
	}
	return labels, probs, nil
}

// Predict returns the label tensor as class ids.
func (o *ONNXModel) Predict(m model.FeatureMatrix) ([]int, error) {
	if err := checkWidth(m, o.features); err != nil {
		return nil, err
	}
	if len(m.Values) == 0 {
		return []int{}, nil
	}
	labels, _, err := o.run(m)
	if err != nil {
		return nil, err
	}
	preds := make([]int, len(labels))
	for i, l := range labels {
		preds[i] = int(l)
	}
	return preds, nil
}

// PredictProba returns per-class probabilities from the second output.
func (o *onnxProbModel) PredictProba(m model.FeatureMatrix) ([][]float64, error) {
	if err := checkWidth(m, o.features); err != nil {
		return nil, err
	}
	if len(m.Values) == 0 {
		return [][]float64{}, nil
	}
	_, probs, err := o.run(m)
	if err != nil {
		return nil, err
	}
	nc := int(o.numClasses)
	out := make([][]float64, len(m.Values))
	for i := range out {
		row := make([]float64, nc)
		for c := 0; c < nc; c++ {
			row[c] = float64(probs[i*nc+c])
		}
		out[i] = row
	}
	return out, nil
}

// Features returns the feature schema.
func (o *ONNXModel) Features() []string { return o.features }

// Classes returns the class ids, when declared or inferable.
func (o *ONNXModel) Classes() []int { return o.classes }

// Info describes the artifact.
func (o *ONNXModel) Info() model.ModelInfo {
	return model.ModelInfo{Path: o.path, Format: FormatONNX, Features: o.features, Classes: o.classes}
}

// Close releases the ONNX session.
func (o *ONNXModel) Close() error {
	return o.session.Destroy()
}
