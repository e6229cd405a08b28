package inference

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// Agreement is the largest absolute difference between two backends' outputs.
type Agreement struct {
	BBoxes  float64
	Classes float64
}

// Max returns the larger of the two differences.
func (a Agreement) Max() float64 {
	return math.Max(a.BBoxes, a.Classes)
}

// Within reports whether both differences are at most tol.
func (a Agreement) Within(tol float64) bool {
	return a.BBoxes <= tol && a.Classes <= tol
}

// Tolerance is the expected agreement of a precision with the baseline.
func Tolerance(p Precision) float64 {
	switch p {
	case Baseline:
		return 0
	case Frozen:
		return 1e-5
	case FP32:
		return 1e-3
	case FP16:
		return 1e-2
	case INT8:
		return 1e-1
	}
	return math.Inf(1)
}

// Compare measures how closely got reproduces ref. The region output is
// ignored since compiled backends do not produce it.
func Compare(ref, got *Outputs) (Agreement, error) {
	if ref == nil || got == nil {
		return Agreement{}, errors.New("nil outputs")
	}
	bb, err := maxAbsDiff(ref.BBoxes, got.BBoxes)
	if err != nil {
		return Agreement{}, errors.Wrap(err, "bboxes")
	}
	cl, err := maxAbsDiff(ref.Classes, got.Classes)
	if err != nil {
		return Agreement{}, errors.Wrap(err, "classes")
	}
	return Agreement{BBoxes: bb, Classes: cl}, nil
}

func maxAbsDiff(a, b *tensor.Dense) (float64, error) {
	if a == nil || b == nil {
		return 0, errors.New("missing output")
	}
	if !sameShape(a.Shape(), b.Shape()) {
		return 0, errors.Errorf("shape %v differs from %v", b.Shape(), a.Shape())
	}
	x, err := float64s(a)
	if err != nil {
		return 0, err
	}
	y, err := float64s(b)
	if err != nil {
		return 0, err
	}
	if len(x) == 0 {
		return 0, nil
	}
	return floats.Distance(x, y, math.Inf(1)), nil
}

func float64s(t *tensor.Dense) ([]float64, error) {
	data, ok := contiguous(t).Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 output, got %v", t.Dtype())
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out, nil
}
