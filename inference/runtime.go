package inference

import (
	"context"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/mobiledetectnet/inference/providers"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// RuntimeEngine runs an exported graph on ONNX Runtime: the frozen graph on
// CPU, or a TensorRT engine at fp32, fp16 or int8. The batch size is fixed at
// construction; larger inputs are run in chunks and a short final chunk is
// zero-padded.
type RuntimeEngine struct {
	cfg       EngineConfig
	precision Precision
	log       logs.Log

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	stats   RunStats
}

// RunStats accumulates session run times.
type RunStats struct {
	Runs  int64
	Total time.Duration
}

// Mean returns the average run time.
func (s RunStats) Mean() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Runs)
}

// NewRuntimeEngine creates the ONNX Runtime session for cfg.Precision.
//
// Arguments:
//   - cfg: The engine configuration. ModelPath and BatchSize are required.
//   - log: The logger.
//
// Returns:
//   - *RuntimeEngine: The engine, holding native resources until Close.
//   - error: If the library, model or execution provider cannot be loaded.
func NewRuntimeEngine(cfg EngineConfig, log logs.Log) (*RuntimeEngine, error) {
	if !cfg.Precision.FixedBatch() {
		return nil, errors.Wrapf(ErrInvalidPrecision, "%s does not run on ONNX Runtime", cfg.Precision)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := providers.Initialize(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputName, outputNames, err := ioNames(cfg)
	if err != nil {
		return nil, err
	}
	if len(outputNames) != 2 {
		return nil, errors.Wrapf(ErrOutputArity, "compiled graph must expose (bboxes, classes), got %v", outputNames)
	}

	b := int64(cfg.BatchSize)
	gh, gw := int64(cfg.GridHeight), int64(cfg.GridWidth)
	inShape := ort.NewShape(b, int64(cfg.InputHeight), int64(cfg.InputWidth), 3)

	e := &RuntimeEngine{cfg: cfg, precision: cfg.Precision, log: log}
	e.input, err = ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	for _, shape := range []ort.Shape{ort.NewShape(b, gh, gw, 4), ort.NewShape(b, gh, gw, 1)} {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			e.Close()
			return nil, errors.Wrap(err, "create output tensor")
		}
		e.outputs = append(e.outputs, t)
	}

	opts := sessionOptions(cfg, inputName)
	options, err := providers.SessionOptions(opts)
	if err != nil {
		e.Close()
		return nil, err
	}
	defer options.Destroy()

	e.session, err = ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inputName},
		outputNames,
		[]ort.Value{e.input},
		[]ort.Value{e.outputs[0], e.outputs[1]},
		options,
	)
	if err != nil {
		e.Close()
		return nil, errors.Wrapf(err, "create %s session for %s", cfg.Precision, cfg.ModelPath)
	}

	log.Infof("%s engine: %s on %s, batch %d, input %s, outputs %v",
		cfg.Precision, cfg.ModelPath, opts.Backend, cfg.BatchSize, inputName, outputNames)
	return e, nil
}

// sessionOptions derives the provider settings from the precision.
func sessionOptions(cfg EngineConfig, inputName string) providers.Options {
	var o providers.Options
	if cfg.Providers != nil {
		o = *cfg.Providers
	} else {
		o = providers.DefaultOptions(cfg.Precision.Backend())
	}
	o.Backend = cfg.Precision.Backend()

	if cfg.Precision.Accelerated() {
		o.TensorRT.FP16 = cfg.Precision == FP16
		o.TensorRT.INT8 = cfg.Precision == INT8
		if o.TensorRT.INT8 {
			o.TensorRT.CalibrationTable = cfg.CalibrationTable
		}
		if cfg.EngineCachePath != "" {
			o.TensorRT.EngineCachePath = cfg.EngineCachePath
		}
		o.TensorRT.Profiles = []providers.ShapeProfile{
			providers.FixedProfile(inputName, int64(cfg.BatchSize), int64(cfg.InputHeight), int64(cfg.InputWidth), 3),
		}
	}
	return o
}

// ioNames returns the configured node names, reading them from the model
// when not configured.
func ioNames(cfg EngineConfig) (string, []string, error) {
	if cfg.InputName != "" && len(cfg.OutputNames) > 0 {
		return cfg.InputName, cfg.OutputNames, nil
	}
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return "", nil, errors.Wrapf(err, "read inputs and outputs of %s", cfg.ModelPath)
	}

	input := cfg.InputName
	if input == "" {
		if len(inputs) != 1 {
			return "", nil, errors.Errorf("model %s has %d inputs, want 1", cfg.ModelPath, len(inputs))
		}
		input = inputs[0].Name
	}
	names := cfg.OutputNames
	if len(names) == 0 {
		for _, o := range outputs {
			names = append(names, o.Name)
		}
	}
	return input, names, nil
}

// Precision returns the engine precision.
func (e *RuntimeEngine) Precision() Precision { return e.precision }

// BatchSize returns the batch the session was built for.
func (e *RuntimeEngine) BatchSize() int { return e.cfg.BatchSize }

// Stats returns the accumulated session run times.
func (e *RuntimeEngine) Stats() RunStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Infer runs images through the session in BatchSize chunks and returns
// (bboxes, classes) for every input row.
func (e *RuntimeEngine) Infer(ctx context.Context, images *tensor.Dense) (*Outputs, error) {
	n, err := checkInput(e.cfg, images)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("engine is closed")
	}

	return runChunked(ctx, e.cfg, images, n, e.input.GetData(), func() ([][]float32, error) {
		began := time.Now()
		if err := e.session.Run(); err != nil {
			return nil, errors.Wrapf(err, "run %s session", e.precision)
		}
		e.stats.Runs++
		e.stats.Total += time.Since(began)
		return [][]float32{e.outputs[0].GetData(), e.outputs[1].GetData()}, nil
	})
}

// runChunked copies n input rows into in, BatchSize rows at a time, zero-pads
// a short final chunk and calls run. run returns the (bboxes, classes) data of
// a full batch; only the rows backed by real inputs are kept.
func runChunked(ctx context.Context, cfg EngineConfig, images *tensor.Dense, n int, in []float32, run func() ([][]float32, error)) (*Outputs, error) {
	gh, gw := cfg.GridHeight, cfg.GridWidth
	bboxes := tensor.New(tensor.WithShape(n, gh, gw, 4), tensor.Of(tensor.Float32))
	classes := tensor.New(tensor.WithShape(n, gh, gw, 1), tensor.Of(tensor.Float32))
	results := []*tensor.Dense{bboxes, classes}

	src := contiguous(images).Data().([]float32)
	perIn := len(in) / cfg.BatchSize

	for start := 0; start < n; start += cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := minInt(cfg.BatchSize, n-start)

		copied := copy(in, src[start*perIn:(start+rows)*perIn])
		for i := copied; i < len(in); i++ {
			in[i] = 0
		}

		outs, err := run()
		if err != nil {
			return nil, err
		}
		for i, data := range outs {
			dst := results[i].Data().([]float32)
			per := len(dst) / n
			if len(data) != per*cfg.BatchSize {
				return nil, errors.Wrapf(ErrOutputArity, "output %d has %d values, want %d", i, len(data), per*cfg.BatchSize)
			}
			copy(dst[start*per:], data[:rows*per])
		}
	}

	return FromTuple(results)
}

// Close releases the session and its tensors.
func (e *RuntimeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if e.session != nil {
		keep(errors.Wrap(e.session.Destroy(), "destroy session"))
		e.session = nil
	}
	if e.input != nil {
		keep(e.input.Destroy())
		e.input = nil
	}
	for _, o := range e.outputs {
		keep(o.Destroy())
	}
	e.outputs = nil
	return first
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
