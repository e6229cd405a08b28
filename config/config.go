// Package config loads the YAML configuration shared by the encode and infer
// commands.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/nvr-ai/mobiledetectnet/augment"
	"github.com/nvr-ai/mobiledetectnet/dataset"
	"github.com/nvr-ai/mobiledetectnet/inference"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level configuration file.
type Config struct {
	Dataset   dataset.Config  `json:"dataset" yaml:"dataset"`
	Inference InferenceConfig `json:"inference" yaml:"inference"`
}

// InferenceConfig configures a benchmark run and the optional decoding of its
// detections.
type InferenceConfig struct {
	Engine inference.EngineConfig `json:"engine" yaml:"engine"`

	// TestPath is a directory of images to run on. When empty, Limit random
	// inputs are used.
	TestPath string `json:"testPath" yaml:"testPath"`
	// Stage is the augmentation applied to test images.
	Stage augment.Stage `json:"stage" yaml:"stage"`
	// Limit caps the number of images.
	Limit int `json:"limit" yaml:"limit"`
	// Repeat adds this many extra timed runs for latency statistics.
	Repeat int `json:"repeat" yaml:"repeat"`

	// Confidence is the minimum class score of a decoded cell.
	Confidence float32 `json:"confidence" yaml:"confidence"`
	// Merge groups overlapping rectangles before drawing.
	Merge          bool    `json:"merge" yaml:"merge"`
	MergeThreshold int     `json:"mergeThreshold" yaml:"mergeThreshold"`
	MergeEps       float64 `json:"mergeEps" yaml:"mergeEps"`
	// OutputDir receives annotated images. Nothing is drawn when empty.
	OutputDir string `json:"outputDir" yaml:"outputDir"`
	// Seed drives the random inputs and test augmentation.
	Seed int64 `json:"seed" yaml:"seed"`
}

// Default returns the defaults of both commands.
func Default() Config {
	return Config{
		Dataset: dataset.DefaultConfig(""),
		Inference: InferenceConfig{
			Engine:         inference.DefaultEngineConfig(),
			Stage:          augment.StageTest,
			Limit:          20,
			Confidence:     0.1,
			MergeThreshold: 1,
			MergeEps:       0.75,
		},
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
//
// Arguments:
//   - path: The configuration file.
//
// Returns:
//   - Config: The loaded configuration. It is not validated.
//   - error: If the file cannot be read or parsed.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write config file")
}

// Validate checks both sections. Every failure wraps ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.Dataset.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "dataset: %v", err)
	}
	if err := c.Inference.Validate(); err != nil {
		return err
	}
	if c.Dataset.InputWidth != c.Inference.Engine.InputWidth ||
		c.Dataset.InputHeight != c.Inference.Engine.InputHeight {
		return errors.Wrapf(ErrInvalidConfig, "dataset input %dx%d differs from engine input %dx%d",
			c.Dataset.InputWidth, c.Dataset.InputHeight, c.Inference.Engine.InputWidth, c.Inference.Engine.InputHeight)
	}
	return nil
}

// Validate checks the inference section.
func (c InferenceConfig) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "engine: %v", err)
	}
	if _, err := augment.ParseStage(string(c.Stage)); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	if c.Limit <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "limit must be positive, got %d", c.Limit)
	}
	if c.Repeat < 0 {
		return errors.Wrapf(ErrInvalidConfig, "repeat must not be negative, got %d", c.Repeat)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return errors.Wrapf(ErrInvalidConfig, "confidence %g outside [0, 1]", c.Confidence)
	}
	if c.Merge && (c.MergeThreshold < 0 || c.MergeEps <= 0) {
		return errors.Wrapf(ErrInvalidConfig, "merge needs threshold >= 0 and eps > 0, got %d and %g",
			c.MergeThreshold, c.MergeEps)
	}
	return nil
}
