package inference

import (
	"context"
	"os"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ONNXModelName selects the exported ONNX graph as the baseline model. The
// graph is imported into gorgonia, so the baseline runs the same artifact as
// the ONNX Runtime and TensorRT backends.
const ONNXModelName = "onnx"

// ONNXGraphEngine is the baseline backend for an exported model. The graph
// keeps the batch size it was exported with; inputs are chunked and padded to
// it like the compiled backends.
type ONNXGraphEngine struct {
	cfg EngineConfig
	log logs.Log

	mu      sync.Mutex
	backend *gorgonnx.Graph
	model   *onnx.Model
	input   *tensor.Dense
}

// NewONNXGraphEngine imports cfg.ModelPath into a gorgonia graph.
//
// Arguments:
//   - cfg: The engine configuration. ModelPath and BatchSize are required.
//   - log: The logger.
//
// Returns:
//   - *ONNXGraphEngine: The engine.
//   - error: If the model cannot be read or uses operators gorgonia lacks.
func NewONNXGraphEngine(cfg EngineConfig, log logs.Log) (*ONNXGraphEngine, error) {
	if cfg.ModelPath == "" || cfg.BatchSize <= 0 {
		return nil, errors.New("onnx baseline needs a model path and the batch size it was exported with")
	}
	data, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read model %s", cfg.ModelPath)
	}

	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(data); err != nil {
		return nil, errors.Wrapf(err, "import %s into gorgonia", cfg.ModelPath)
	}

	log.Infof("Baseline engine: %s imported into gorgonia, batch %d", cfg.ModelPath, cfg.BatchSize)
	return &ONNXGraphEngine{
		cfg:     cfg,
		log:     log,
		backend: backend,
		model:   model,
		input: tensor.New(
			tensor.WithShape(cfg.BatchSize, cfg.InputHeight, cfg.InputWidth, 3),
			tensor.Of(tensor.Float32),
		),
	}, nil
}

// Precision returns Baseline.
func (e *ONNXGraphEngine) Precision() Precision { return Baseline }

// BatchSize returns the exported batch size.
func (e *ONNXGraphEngine) BatchSize() int { return e.cfg.BatchSize }

// Infer runs the imported graph and returns (bboxes, classes) in the model's
// output order.
func (e *ONNXGraphEngine) Infer(ctx context.Context, images *tensor.Dense) (*Outputs, error) {
	n, err := checkInput(e.cfg, images)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil, errors.New("engine is closed")
	}

	return runChunked(ctx, e.cfg, images, n, e.input.Data().([]float32), e.run)
}

func (e *ONNXGraphEngine) run() ([][]float32, error) {
	if err := e.model.SetInput(0, e.input); err != nil {
		return nil, errors.Wrap(err, "bind input")
	}
	if err := e.backend.Run(); err != nil {
		return nil, errors.Wrap(err, "run imported graph")
	}
	outs, err := e.model.GetOutputTensors()
	if err != nil {
		return nil, errors.Wrap(err, "read outputs")
	}
	if len(outs) != 2 {
		return nil, errors.Wrapf(ErrOutputArity, "imported graph has %d outputs, want (bboxes, classes)", len(outs))
	}

	data := make([][]float32, len(outs))
	for i, t := range outs {
		d, ok := t.(*tensor.Dense)
		if !ok {
			return nil, errors.Errorf("output %d: unexpected tensor type %T", i, t)
		}
		v, ok := contiguous(d).Data().([]float32)
		if !ok {
			return nil, errors.Errorf("output %d is %v, want float32", i, d.Dtype())
		}
		data[i] = v
	}
	return data, nil
}

// Close drops the imported graph.
func (e *ONNXGraphEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = nil
	e.backend = nil
	return nil
}
