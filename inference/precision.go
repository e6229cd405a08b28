package inference

import (
	"strings"

	"github.com/nvr-ai/mobiledetectnet/inference/providers"
	"github.com/pkg/errors"
)

// ErrInvalidPrecision is returned for an unknown precision selector.
var ErrInvalidPrecision = errors.New("invalid precision")

// Precision selects the backend an Engine runs on.
type Precision int

// Precision constants are the supported backends.
const (
	// Baseline executes the model graph directly. Any batch size.
	Baseline Precision = iota
	// Frozen runs the exported graph on ONNX Runtime at fp32 with a fixed batch.
	Frozen
	// FP32 runs a TensorRT engine at fp32.
	FP32
	// FP16 runs a TensorRT engine at fp16.
	FP16
	// INT8 runs a calibrated TensorRT engine at int8.
	INT8
)

var precisionNames = [...]string{"baseline", "frozen", "fp32", "fp16", "int8"}

// Short tags accepted alongside the names.
var precisionTags = map[string]Precision{
	"k":  Baseline,
	"tf": Frozen,
}

// Precisions lists every precision in order.
func Precisions() []Precision {
	return []Precision{Baseline, Frozen, FP32, FP16, INT8}
}

// ParsePrecision accepts a precision name or tag, case-insensitively.
func ParsePrecision(s string) (Precision, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, name := range precisionNames {
		if key == name {
			return Precision(i), nil
		}
	}
	if p, ok := precisionTags[key]; ok {
		return p, nil
	}
	return 0, errors.Wrapf(ErrInvalidPrecision, "%q (want one of %s)", s, strings.Join(precisionNames[:], ", "))
}

func (p Precision) String() string {
	if p < 0 || int(p) >= len(precisionNames) {
		return "unknown"
	}
	return precisionNames[p]
}

// Valid reports whether p is a known precision.
func (p Precision) Valid() bool {
	return p >= 0 && int(p) < len(precisionNames)
}

// FixedBatch reports whether engines of this precision are built for one
// batch size.
func (p Precision) FixedBatch() bool { return p != Baseline }

// Accelerated reports whether the precision runs on TensorRT.
func (p Precision) Accelerated() bool { return p >= FP32 && p.Valid() }

// Backend returns the ONNX Runtime execution provider for the precision.
func (p Precision) Backend() providers.Backend {
	if p.Accelerated() {
		return providers.TensorRTBackend
	}
	return providers.CPUBackend
}

// MarshalText implements encoding.TextMarshaler.
func (p Precision) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, errors.Wrapf(ErrInvalidPrecision, "%d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Precision) UnmarshalText(text []byte) error {
	v, err := ParsePrecision(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
