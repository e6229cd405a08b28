package inference

import (
	"context"
	"os"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// modelEnv points at an exported MobileDetectNet ONNX graph with a
// (N, 224, 224, 3) input and (bboxes, classes) outputs.
const modelEnv = "MOBILEDETECTNET_ONNX_MODEL"

func runtimeConfig(t *testing.T) EngineConfig {
	t.Helper()
	lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	model := os.Getenv(modelEnv)
	if lib == "" || model == "" {
		t.Skipf("set ONNXRUNTIME_SHARED_LIBRARY_PATH and %s to run ONNX Runtime tests", modelEnv)
	}
	cfg := DefaultEngineConfig()
	cfg.Precision = Frozen
	cfg.BatchSize = 2
	cfg.ModelPath = model
	cfg.LibraryPath = lib
	return cfg
}

func TestNewRuntimeEngine_RejectsBaseline(t *testing.T) {
	_, err := NewRuntimeEngine(DefaultEngineConfig(), logs.NewTestingLog(t))
	assert.True(t, errors.Is(err, ErrInvalidPrecision))
}

func TestRuntimeEngine_ChunksAndTrims(t *testing.T) {
	cfg := runtimeConfig(t)
	e, err := NewEngine(cfg, WithLogger(logs.NewTestingLog(t)))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, Frozen, e.Precision())
	assert.Equal(t, 2, e.BatchSize())

	batch := rampBatch(3, cfg.InputHeight, cfg.InputWidth)
	out, err := e.Infer(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Arity())
	assert.Equal(t, tensor.Shape{3, 7, 7, 4}, out.BBoxes.Shape())
	assert.Equal(t, tensor.Shape{3, 7, 7, 1}, out.Classes.Shape())

	re := e.(*RuntimeEngine)
	assert.EqualValues(t, 2, re.Stats().Runs)

	// Repeated runs agree.
	single, err := e.Infer(context.Background(), rampBatch(3, cfg.InputHeight, cfg.InputWidth))
	require.NoError(t, err)
	a, err := Compare(out, single)
	require.NoError(t, err)
	assert.True(t, a.Within(Tolerance(Frozen)), "%+v", a)
}

func TestRuntimeEngine_Cancelled(t *testing.T) {
	cfg := runtimeConfig(t)
	e, err := NewEngine(cfg, WithLogger(logs.NewTestingLog(t)))
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Infer(ctx, rampBatch(1, cfg.InputHeight, cfg.InputWidth))
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, e.Close())
	_, err = e.Infer(context.Background(), rampBatch(1, cfg.InputHeight, cfg.InputWidth))
	assert.ErrorContains(t, err, "closed")
}

// tensorRTEnv enables the TensorRT comparisons when set to a non-empty value.
const tensorRTEnv = "MOBILEDETECTNET_TENSORRT"

func TestONNXBaseline_AgreesWithCompiledBackends(t *testing.T) {
	cfg := runtimeConfig(t)
	log := logs.NewTestingLog(t)

	baseCfg := cfg
	baseCfg.Precision = Baseline
	baseCfg.Model = ONNXModelName
	base, err := NewEngine(baseCfg, WithLogger(log))
	require.NoError(t, err)
	defer base.Close()
	assert.Equal(t, Baseline, base.Precision())
	assert.Equal(t, cfg.BatchSize, base.BatchSize())

	batch := rampBatch(3, cfg.InputHeight, cfg.InputWidth)
	ref, err := base.Infer(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 3, ref.Len())

	precisions := []Precision{Frozen}
	if os.Getenv(tensorRTEnv) != "" {
		precisions = append(precisions, FP32)
	}
	for _, p := range precisions {
		t.Run(p.String(), func(t *testing.T) {
			c := cfg
			c.Precision = p
			e, err := NewEngine(c, WithLogger(log))
			require.NoError(t, err)
			defer e.Close()

			got, err := e.Infer(context.Background(), batch)
			require.NoError(t, err)
			a, err := Compare(ref, got)
			require.NoError(t, err)
			assert.True(t, a.Within(Tolerance(p)), "%s vs baseline: %+v", p, a)
		})
	}
}
