// Package inference runs a trained MobileDetectNet on interchangeable
// backends: direct graph execution, a frozen graph on ONNX Runtime, and
// TensorRT engines at fp32, fp16 and int8.
package inference

import (
	"context"

	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/mobiledetectnet/inference/providers"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Engine runs the detector on a batch of (N, H, W, 3) images in [-1, 1].
type Engine interface {
	// Infer returns 3 outputs for registered graph models and 2 for
	// exported graphs. Implementations serialize concurrent calls.
	Infer(ctx context.Context, images *tensor.Dense) (*Outputs, error)
	Precision() Precision
	// BatchSize is the batch the engine was built for, or 0 for any.
	BatchSize() int
	Close() error
}

// EngineConfig describes the model and backend to build.
type EngineConfig struct {
	Precision   Precision `json:"precision" yaml:"precision"`
	BatchSize   int       `json:"batchSize" yaml:"batchSize"`
	InputWidth  int       `json:"inputWidth" yaml:"inputWidth"`
	InputHeight int       `json:"inputHeight" yaml:"inputHeight"`
	GridWidth   int       `json:"gridWidth" yaml:"gridWidth"`
	GridHeight  int       `json:"gridHeight" yaml:"gridHeight"`
	Anchors     int       `json:"anchors" yaml:"anchors"`

	// Model names the registered GraphModel used by the baseline backend, or
	// ONNXModelName to import ModelPath instead.
	Model string `json:"model" yaml:"model"`
	// WeightsPath is the trained weights artifact for the baseline backend.
	WeightsPath string `json:"weightsPath" yaml:"weightsPath"`

	// ModelPath is the exported ONNX graph for the compiled backends.
	ModelPath string `json:"modelPath" yaml:"modelPath"`
	// InputName and OutputNames are read from the model when empty.
	InputName   string   `json:"inputName" yaml:"inputName"`
	OutputNames []string `json:"outputNames,omitempty" yaml:"outputNames,omitempty"`
	LibraryPath string   `json:"libraryPath" yaml:"libraryPath"`
	// CalibrationTable is required for INT8.
	CalibrationTable string `json:"calibrationTable" yaml:"calibrationTable"`
	EngineCachePath  string `json:"engineCachePath" yaml:"engineCachePath"`
	// Providers overrides the default session options of the precision.
	Providers *providers.Options `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// DefaultEngineConfig returns the 224x224 input, 7x7x9 grid configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Precision:   Baseline,
		BatchSize:   1,
		InputWidth:  224,
		InputHeight: 224,
		GridWidth:   7,
		GridHeight:  7,
		Anchors:     9,
		Model:       ProbeModelName,
	}
}

// Validate checks the configuration for the selected precision.
func (c EngineConfig) Validate() error {
	if !c.Precision.Valid() {
		return errors.Wrapf(ErrInvalidPrecision, "%d", int(c.Precision))
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.GridWidth <= 0 || c.GridHeight <= 0 || c.Anchors <= 0 {
		return errors.Errorf("invalid grid %dx%dx%d", c.GridWidth, c.GridHeight, c.Anchors)
	}
	if c.BatchSize < 0 {
		return errors.Errorf("batch size must not be negative, got %d", c.BatchSize)
	}
	if !c.Precision.FixedBatch() {
		if c.Model == ONNXModelName && (c.ModelPath == "" || c.BatchSize == 0) {
			return errors.New("onnx baseline needs a model path and a fixed batch size")
		}
		return nil
	}
	if c.BatchSize == 0 {
		return errors.Errorf("%s engines need a fixed batch size", c.Precision)
	}
	if c.ModelPath == "" {
		return errors.Errorf("%s engines need an ONNX model path", c.Precision)
	}
	if c.Precision == INT8 && c.CalibrationTable == "" {
		return errors.New("int8 engines need a calibration table")
	}
	return nil
}

// Option customizes engine construction.
type Option func(*EngineBuilder)

// WithLogger sets the logger.
func WithLogger(l logs.Log) Option {
	return func(b *EngineBuilder) { b.log = l }
}

// WithGraphModel sets the graph the baseline backend executes, overriding
// EngineConfig.Model.
func WithGraphModel(m GraphModel) Option {
	return func(b *EngineBuilder) { b.model = m }
}

// WithWeights supplies loaded weights, overriding EngineConfig.WeightsPath.
func WithWeights(w *Weights) Option {
	return func(b *EngineBuilder) { b.weights = w }
}

// EngineBuilder assembles an Engine for one precision.
type EngineBuilder struct {
	cfg     EngineConfig
	log     logs.Log
	model   GraphModel
	weights *Weights
	err     error
}

// NewEngineBuilder creates a new engine builder.
//
// Arguments:
//   - cfg: The engine configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder(cfg EngineConfig) *EngineBuilder {
	b := &EngineBuilder{cfg: cfg}
	if err := cfg.Validate(); err != nil {
		b.err = errors.Wrap(err, "engine config")
	}
	return b
}

// With applies options to the builder.
func (b *EngineBuilder) With(opts ...Option) *EngineBuilder {
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the engine and panics if there is an error.
func (b *EngineBuilder) MustBuild() Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Build builds the engine for the configured precision.
//
// Returns:
//   - Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.log == nil {
		l, err := logs.NewLog()
		if err != nil {
			return nil, errors.Wrap(err, "create logger")
		}
		b.log = l
	}

	if b.cfg.Precision != Baseline {
		return NewRuntimeEngine(b.cfg, b.log)
	}
	if b.model == nil && b.cfg.Model == ONNXModelName {
		return NewONNXGraphEngine(b.cfg, b.log)
	}

	model := b.model
	if model == nil {
		m, err := LookupGraphModel(b.cfg.Model)
		if err != nil {
			return nil, err
		}
		model = m
	}

	weights := b.weights
	if weights == nil {
		if b.cfg.WeightsPath == "" {
			return nil, errors.New("baseline engine needs a weights path")
		}
		w, err := LoadWeightsFile(b.cfg.WeightsPath)
		if err != nil {
			return nil, err
		}
		weights = w
	}

	return NewGraphEngine(b.cfg, model, weights, b.log)
}

// NewEngine builds the engine variant for cfg.Precision.
func NewEngine(cfg EngineConfig, opts ...Option) (Engine, error) {
	return NewEngineBuilder(cfg).With(opts...).Build()
}

// checkInput validates an (N, H, W, 3) float32 batch and returns N.
func checkInput(cfg EngineConfig, images *tensor.Dense) (int, error) {
	if images == nil {
		return 0, errors.New("nil input batch")
	}
	if images.Dtype() != tensor.Float32 {
		return 0, errors.Errorf("input must be float32, got %v", images.Dtype())
	}
	s := images.Shape()
	if len(s) != 4 || s[1] != cfg.InputHeight || s[2] != cfg.InputWidth || s[3] != 3 {
		return 0, errors.Errorf("input shape %v, want (N, %d, %d, 3)", s, cfg.InputHeight, cfg.InputWidth)
	}
	if s[0] == 0 {
		return 0, errors.New("empty input batch")
	}
	return s[0], nil
}
