package benchmark

import (
	"encoding/json"
	"os"

	"github.com/nvr-ai/mobiledetectnet/inference"
	"github.com/pkg/errors"
)

// Scenario is one precision and batch size to time.
type Scenario struct {
	Name       string              `json:"name"`
	Precision  inference.Precision `json:"precision"`
	BatchSize  int                 `json:"batch_size"`
	Iterations int                 `json:"iterations"`
	WarmupRuns int                 `json:"warmup_runs"`
}

// ScenarioBuilder helps build scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a baseline scenario with batch size 1.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			Precision:  inference.Baseline,
			BatchSize:  1,
			Iterations: 10,
			WarmupRuns: 1,
		},
	}
}

// WithPrecision sets the precision.
func (sb *ScenarioBuilder) WithPrecision(p inference.Precision) *ScenarioBuilder {
	sb.scenario.Precision = p
	return sb
}

// WithBatchSize sets the engine batch size.
func (sb *ScenarioBuilder) WithBatchSize(batchSize int) *ScenarioBuilder {
	sb.scenario.BatchSize = batchSize
	return sb
}

// WithIterations sets the number of timed runs.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of untimed runs before timing.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// Validate checks the scenario values.
func (s Scenario) Validate() error {
	if !s.Precision.Valid() {
		return errors.Wrapf(inference.ErrInvalidPrecision, "scenario %s", s.Name)
	}
	if s.Iterations <= 0 {
		return errors.Errorf("scenario %s: iterations must be positive, got %d", s.Name, s.Iterations)
	}
	if s.WarmupRuns < 0 || s.BatchSize < 0 {
		return errors.Errorf("scenario %s: negative warmup runs or batch size", s.Name)
	}
	return nil
}

// ScenarioSet is a named collection of scenarios.
type ScenarioSet struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Scenarios   []Scenario `json:"scenarios"`
}

// PrecisionScenarios returns one scenario per precision, baseline first so
// that the others can be compared against it.
func PrecisionScenarios(precisions []inference.Precision, batchSize, iterations int) *ScenarioSet {
	set := &ScenarioSet{
		Name:        "Precision comparison",
		Description: "Latency and output agreement of each backend against the baseline graph",
	}
	ordered := []inference.Precision{inference.Baseline}
	for _, p := range precisions {
		if p != inference.Baseline {
			ordered = append(ordered, p)
		}
	}
	for _, p := range ordered {
		set.Scenarios = append(set.Scenarios, NewScenarioBuilder(p.String()).
			WithPrecision(p).
			WithBatchSize(batchSize).
			WithIterations(iterations).
			Build())
	}
	return set
}

// SaveScenarioSet writes a scenario set to a JSON file.
func SaveScenarioSet(set *ScenarioSet, filename string) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal scenario set")
	}
	return errors.Wrap(os.WriteFile(filename, data, 0o644), "write scenario file")
}

// LoadScenarioSet loads a scenario set from a JSON file.
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario file")
	}

	var set ScenarioSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrap(err, "unmarshal scenario set")
	}
	for _, s := range set.Scenarios {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &set, nil
}
