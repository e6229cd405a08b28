package config

import (
	"path/filepath"
	"testing"

	"github.com/nvr-ai/mobiledetectnet/augment"
	"github.com/nvr-ai/mobiledetectnet/dataset"
	"github.com/nvr-ai/mobiledetectnet/inference"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 24, cfg.Dataset.BatchSize)
	assert.Equal(t, 7, cfg.Dataset.GridWidth)
	assert.Equal(t, inference.Baseline, cfg.Inference.Engine.Precision)
	assert.Equal(t, augment.StageTest, cfg.Inference.Stage)
	assert.Equal(t, 20, cfg.Inference.Limit)
	assert.InDelta(t, 0.1, cfg.Inference.Confidence, 1e-6)
	assert.Equal(t, 1, cfg.Inference.MergeThreshold)
	assert.InDelta(t, 0.75, cfg.Inference.MergeEps, 1e-9)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
dataset:
  root: /data/kitti
  stage: val
  batchSize: 8
  corrupt: abort
inference:
  engine:
    precision: FP16
    batchSize: 4
    modelPath: /models/mobiledetectnet.onnx
    engineCachePath: /tmp/trt
  confidence: 0.3
  merge: true
  limit: 5
`))
	require.NoError(t, err)

	assert.Equal(t, "/data/kitti", cfg.Dataset.Root)
	assert.Equal(t, augment.StageVal, cfg.Dataset.Stage)
	assert.Equal(t, 8, cfg.Dataset.BatchSize)
	assert.Equal(t, dataset.CorruptAbort, cfg.Dataset.Corrupt)
	assert.Equal(t, 224, cfg.Dataset.InputWidth, "unset keys keep their defaults")

	e := cfg.Inference.Engine
	assert.Equal(t, inference.FP16, e.Precision)
	assert.Equal(t, 4, e.BatchSize)
	assert.Equal(t, "/models/mobiledetectnet.onnx", e.ModelPath)
	assert.Equal(t, 9, e.Anchors)
	assert.True(t, cfg.Inference.Merge)
	assert.Equal(t, 5, cfg.Inference.Limit)
	require.NoError(t, cfg.Validate())
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("inference:\n  engine:\n    precision: fp64\n"))
	assert.True(t, errors.Is(err, inference.ErrInvalidPrecision))

	_, err = Parse([]byte("dataset:\n  batchsize: 8\n"))
	assert.ErrorContains(t, err, "batchsize")

	_, err = Parse([]byte("dataset: ["))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"dataset batch":    func(c *Config) { c.Dataset.BatchSize = 0 },
		"dataset stage":    func(c *Config) { c.Dataset.Stage = "eval" },
		"corrupt policy":   func(c *Config) { c.Dataset.Corrupt = "ignore" },
		"engine precision": func(c *Config) { c.Inference.Engine.Precision = 12 },
		"int8 table":       func(c *Config) { c.Inference.Engine.Precision, c.Inference.Engine.ModelPath = inference.INT8, "m.onnx" },
		"stage":            func(c *Config) { c.Inference.Stage = "" },
		"limit":            func(c *Config) { c.Inference.Limit = 0 },
		"repeat":           func(c *Config) { c.Inference.Repeat = -1 },
		"confidence":       func(c *Config) { c.Inference.Confidence = 1.5 },
		"merge":            func(c *Config) { c.Inference.Merge, c.Inference.MergeEps = true, 0 },
		"input mismatch":   func(c *Config) { c.Inference.Engine.InputWidth = 300 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "%v", err)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	cfg := Default()
	cfg.Dataset.Root = "/data"
	cfg.Inference.Engine.Precision = inference.INT8
	cfg.Inference.Engine.ModelPath = "m.onnx"
	cfg.Inference.Engine.CalibrationTable = "calib"
	cfg.Inference.Engine.BatchSize = 8
	cfg.Inference.Merge = true

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
