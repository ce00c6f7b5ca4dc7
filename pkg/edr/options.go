package edr

import "go.uber.org/zap"

type options struct {
	modelPath      string
	modelFormat    string
	onnxLibrary    string
	features       []string
	labelsFile     string
	algorithm      string
	permutations   int
	backgroundRows int
	seed           uint64
	topFeatures    int
	logger         *zap.Logger
}

// Option configures a Detector.
type Option func(*options)

// WithModelPath sets the classifier artifact. Default: models/model.json.
func WithModelPath(path string) Option {
	return func(o *options) { o.modelPath = path }
}

// WithModelFormat forces the artifact format ("trees" or "onnx") instead
// of inferring it from the file extension.
func WithModelFormat(format string) Option {
	return func(o *options) { o.modelFormat = format }
}

// WithONNXLibrary sets the onnxruntime shared library for ONNX models.
func WithONNXLibrary(path string) Option {
	return func(o *options) { o.onnxLibrary = path }
}

// WithFeatures declares the feature names of an ONNX model whose metadata
// carries none.
func WithFeatures(names ...string) Option {
	return func(o *options) { o.features = names }
}

// WithLabelsFile replaces the built-in MITRE mapping with a YAML file.
func WithLabelsFile(path string) Option {
	return func(o *options) { o.labelsFile = path }
}

// WithPermutationExplainer uses the model-agnostic permutation explainer
// instead of TreeSHAP. It needs a model that reports class probabilities.
func WithPermutationExplainer(permutations, backgroundRows int, seed uint64) Option {
	return func(o *options) {
		o.algorithm = "permutation"
		o.permutations = permutations
		o.backgroundRows = backgroundRows
		o.seed = seed
	}
}

// WithTopFeatures sets how many features the importance ranking keeps.
// Default: 10.
func WithTopFeatures(n int) Option {
	return func(o *options) { o.topFeatures = n }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func defaultOptions() options {
	return options{
		modelPath: "models/model.json",
		algorithm: "tree",
		logger:    zap.NewNop(),
	}
}
