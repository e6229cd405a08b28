package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/mobiledetectnet/decode"
	"github.com/nvr-ai/mobiledetectnet/inference"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// EngineFactory builds the engine for a scenario.
type EngineFactory func(p inference.Precision, batchSize int) (inference.Engine, error)

// NewSuiteArgs represents the arguments for creating a new benchmark suite.
type NewSuiteArgs struct {
	Factory EngineFactory
	// Input is the (N, H, W, 3) batch every scenario runs on.
	Input *tensor.Dense
	// Confidence is the class score counted as a detection.
	Confidence float32
	OutputPath string
	Logger     logs.Log
}

// Suite runs scenarios against one input batch and keeps the baseline
// outputs to compare the other precisions with.
type Suite struct {
	factory    EngineFactory
	input      *tensor.Dense
	confidence float32
	outputDir  string
	log        logs.Log

	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
	reference *inference.Outputs
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - args: The arguments for creating a new benchmark suite.
//
// Returns:
//   - *Suite: The benchmark suite.
//   - error: If the factory or input is missing.
func NewSuite(args NewSuiteArgs) (*Suite, error) {
	if args.Factory == nil || args.Input == nil {
		return nil, errors.New("benchmark suite needs an engine factory and an input batch")
	}
	if args.Input.Dims() != 4 {
		return nil, errors.Errorf("input shape %v, want (N, H, W, 3)", args.Input.Shape())
	}
	log := args.Logger
	if log == nil {
		l, err := logs.NewLog()
		if err != nil {
			return nil, errors.Wrap(err, "create logger")
		}
		log = l
	}
	return &Suite{
		factory:    args.Factory,
		input:      args.Input,
		confidence: args.Confidence,
		outputDir:  args.OutputPath,
		log:        log,
	}, nil
}

// AddScenario adds a scenario to the suite.
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// RunScenario builds the scenario's engine, warms it up, times it and compares
// its outputs with the baseline. A baseline scenario becomes the reference for
// the scenarios after it.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	engine, err := bs.factory(scenario.Precision, scenario.BatchSize)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s engine", scenario.Precision)
	}
	defer engine.Close()

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
		Tolerance: inference.Tolerance(scenario.Precision),
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := engine.Infer(ctx, bs.input); err != nil {
			return nil, errors.Wrapf(err, "warmup run %d", i)
		}
	}

	startMem := readMemStats()
	start := time.Now()
	summary, err := inference.Repeat(ctx, engine, bs.input, scenario.Iterations)
	if err != nil {
		return nil, err
	}
	metrics.TotalDuration = time.Since(start)
	metrics.MemoryStats = memoryDelta(startMem, readMemStats())
	metrics.Latency = summary
	metrics.FramesPerSecond = summary.FPS

	out, err := engine.Infer(ctx, bs.input)
	if err != nil {
		return nil, errors.Wrap(err, "final run")
	}
	metrics.DetectionCount, err = bs.countDetections(out)
	if err != nil {
		return nil, err
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	switch {
	case scenario.Precision == inference.Baseline:
		bs.reference = out
		metrics.WithinTolerance = true
	case bs.reference != nil:
		a, err := inference.Compare(bs.reference, out)
		if err != nil {
			return nil, errors.Wrap(err, "compare with baseline")
		}
		metrics.Agreement = &a
		metrics.WithinTolerance = a.Within(metrics.Tolerance)
	}
	return metrics, nil
}

func (bs *Suite) countDetections(out *inference.Outputs) (int, error) {
	s := bs.input.Shape()
	total := 0
	for i := 0; i < out.Len(); i++ {
		dets, err := decode.Detections(out, i, bs.confidence, s[2], s[1])
		if err != nil {
			return 0, err
		}
		total += len(dets)
	}
	return total, nil
}

// RunAllScenarios executes the scenarios in order. A failed scenario is logged
// and skipped. Results are saved when an output path is set.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.Lock()
	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	bs.mu.Unlock()

	for _, scenario := range scenarios {
		if err := ctx.Err(); err != nil {
			return err
		}
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			bs.log.Errorf("Scenario %s failed: %v", scenario.Name, err)
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		if metrics.Agreement != nil {
			bs.log.Infof("Scenario %s completed: %.2f FPS, max diff %.2g (tolerance %.0e, ok %v)",
				scenario.Name, metrics.FramesPerSecond, metrics.Agreement.Max(), metrics.Tolerance, metrics.WithinTolerance)
		} else {
			bs.log.Infof("Scenario %s completed: %.2f FPS", scenario.Name, metrics.FramesPerSecond)
		}
	}

	if bs.outputDir == "" {
		return nil
	}
	return bs.SaveResults()
}

// SaveResults writes the results as JSON and a CSV summary.
func (bs *Suite) SaveResults() error {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrap(err, "write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrap(err, "save summary CSV")
	}

	bs.log.Infof("Results saved to %s and %s", resultsFile, summaryFile)
	return nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	header := "Scenario,Precision,Batch,FPS,Mean_Latency_ms,StdDev_ms,Alloc_MB,Detections,Max_Diff,Within_Tolerance\n"
	if _, err := file.WriteString(header); err != nil {
		return err
	}

	for _, r := range results {
		diff := ""
		if r.Agreement != nil {
			diff = fmt.Sprintf("%.6g", r.Agreement.Max())
		}
		line := fmt.Sprintf("%s,%s,%d,%.2f,%.3f,%.3f,%.2f,%d,%s,%v\n",
			r.Scenario.Name,
			r.Scenario.Precision,
			r.Scenario.BatchSize,
			r.FramesPerSecond,
			float64(r.Latency.Mean.Nanoseconds())/1e6,
			float64(r.Latency.StdDev.Nanoseconds())/1e6,
			float64(r.MemoryStats.AllocBytes)/(1024*1024),
			r.DetectionCount,
			diff,
			r.WithinTolerance,
		)
		if _, err := file.WriteString(line); err != nil {
			return err
		}
	}
	return file.Close()
}

// GetResults returns all benchmark results
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}
