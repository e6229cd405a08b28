// Package providers builds ONNX Runtime session options for the execution
// backends the detector is served on.
package providers

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend selects the execution provider appended to a session.
type Backend string

const (
	// CPUBackend runs the frozen graph on the default CPU provider.
	CPUBackend Backend = "cpu"
	// CUDABackend runs on the CUDA provider.
	CUDABackend Backend = "cuda"
	// TensorRTBackend compiles the graph with TensorRT, falling back to CUDA
	// for unsupported nodes.
	TensorRTBackend Backend = "tensorrt"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case CPUBackend, CUDABackend, TensorRTBackend:
		return b, nil
	}
	return "", errors.Errorf("unsupported execution provider %q", s)
}

// Options contains the session settings for one backend.
type Options struct {
	Backend Backend `json:"backend" yaml:"backend"`
	// GraphOptimizationLevel controls the level of graph optimization.
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graphOptimizationLevel" yaml:"graphOptimizationLevel"`
	// ExecutionMode controls sequential vs parallel execution.
	ExecutionMode ort.ExecutionMode `json:"executionMode" yaml:"executionMode"`
	// IntraOpNumThreads sets threads for parallelizing ops.
	IntraOpNumThreads int `json:"intraOpNumThreads" yaml:"intraOpNumThreads"`
	// InterOpNumThreads sets threads for parallelizing independent ops.
	InterOpNumThreads int             `json:"interOpNumThreads" yaml:"interOpNumThreads"`
	CUDA              CUDAOptions     `json:"cuda" yaml:"cuda"`
	TensorRT          TensorRTOptions `json:"tensorrt" yaml:"tensorrt"`
}

// DefaultOptions returns the settings for backend.
func DefaultOptions(backend Backend) Options {
	numCPU := runtime.NumCPU()
	return Options{
		Backend:                backend,
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableAll,
		ExecutionMode:          ort.ExecutionModeSequential,
		IntraOpNumThreads:      maxInt(1, numCPU/2),
		InterOpNumThreads:      1,
		CUDA:                   DefaultCUDAOptions(),
		TensorRT:               DefaultTensorRTOptions(),
	}
}

// SessionOptions creates native session options for o. The caller must
// Destroy the result.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: If the environment rejects a setting or provider.
func SessionOptions(o Options) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	if err := configure(options, o); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, o Options) error {
	if err := options.SetGraphOptimizationLevel(o.GraphOptimizationLevel); err != nil {
		return errors.Wrap(err, "set graph optimization level")
	}
	if err := options.SetExecutionMode(o.ExecutionMode); err != nil {
		return errors.Wrap(err, "set execution mode")
	}
	if err := options.SetIntraOpNumThreads(o.IntraOpNumThreads); err != nil {
		return errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(o.InterOpNumThreads); err != nil {
		return errors.Wrap(err, "set inter-op threads")
	}

	switch o.Backend {
	case CPUBackend, "":
		// The CPU provider is always present.
	case CUDABackend:
		return appendCUDA(options, o.CUDA)
	case TensorRTBackend:
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create TensorRT provider options")
		}
		defer trt.Destroy()
		if err := trt.Update(o.TensorRT.Map()); err != nil {
			return errors.Wrap(err, "configure TensorRT provider")
		}
		if err := options.AppendExecutionProviderTensorRT(trt); err != nil {
			return errors.Wrap(err, "enable TensorRT")
		}
		// Nodes TensorRT cannot compile run on CUDA.
		return appendCUDA(options, o.CUDA)
	default:
		return errors.Errorf("unsupported execution provider %q", o.Backend)
	}
	return nil
}

func appendCUDA(options *ort.SessionOptions, o CUDAOptions) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return errors.Wrap(err, "create CUDA provider options")
	}
	defer cuda.Destroy()
	if err := cuda.Update(o.Map()); err != nil {
		return errors.Wrap(err, "configure CUDA provider")
	}
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		return errors.Wrap(err, "enable CUDA")
	}
	return nil
}

// ShapeProfile is the min, optimal and max shape of one input, used to build
// TensorRT optimization profiles.
type ShapeProfile struct {
	InputName string  `json:"inputName" yaml:"inputName"`
	Min       []int64 `json:"min" yaml:"min"`
	Opt       []int64 `json:"opt" yaml:"opt"`
	Max       []int64 `json:"max" yaml:"max"`
}

// FixedProfile returns a profile pinning input to one shape.
func FixedProfile(input string, shape ...int64) ShapeProfile {
	return ShapeProfile{InputName: input, Min: shape, Opt: shape, Max: shape}
}

// profileString formats profiles as "name:1x224x224x3,other:..." for one of
// min, opt or max.
func profileString(profiles []ShapeProfile, pick func(ShapeProfile) []int64) string {
	parts := make([]string, 0, len(profiles))
	for _, p := range profiles {
		dims := pick(p)
		s := make([]string, len(dims))
		for i, d := range dims {
			s[i] = fmt.Sprintf("%d", d)
		}
		parts = append(parts, p.InputName+":"+strings.Join(s, "x"))
	}
	return strings.Join(parts, ",")
}

// maxInt returns the maximum of two integers.
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
