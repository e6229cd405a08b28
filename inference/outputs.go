package inference

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrOutputArity is returned when a backend produces neither 2 nor 3 outputs.
var ErrOutputArity = errors.New("unexpected number of model outputs")

// Outputs are the raw model outputs over the grid.
//
//	Region:  (N, gridH, gridW, anchors), only from the baseline graph
//	BBoxes:  (N, gridH, gridW, 4)
//	Classes: (N, gridH, gridW, 1)
type Outputs struct {
	Region  *tensor.Dense
	BBoxes  *tensor.Dense
	Classes *tensor.Dense
}

// FromTuple interprets an ordered tuple: (bboxes, classes) or
// (region, bboxes, classes).
func FromTuple(ts []*tensor.Dense) (*Outputs, error) {
	for i, t := range ts {
		if t == nil {
			return nil, errors.Errorf("output %d is nil", i)
		}
	}
	switch len(ts) {
	case 2:
		return &Outputs{BBoxes: ts[0], Classes: ts[1]}, nil
	case 3:
		return &Outputs{Region: ts[0], BBoxes: ts[1], Classes: ts[2]}, nil
	}
	return nil, errors.Wrapf(ErrOutputArity, "got %d, want 2 or 3", len(ts))
}

// Arity returns 3 when the region output is present, otherwise 2.
func (o *Outputs) Arity() int {
	if o.Region != nil {
		return 3
	}
	return 2
}

// Tuple returns the outputs in FromTuple order.
func (o *Outputs) Tuple() []*tensor.Dense {
	if o.Region != nil {
		return []*tensor.Dense{o.Region, o.BBoxes, o.Classes}
	}
	return []*tensor.Dense{o.BBoxes, o.Classes}
}

// Len returns the batch size of the outputs.
func (o *Outputs) Len() int {
	if o.Classes == nil || o.Classes.Dims() == 0 {
		return 0
	}
	return o.Classes.Shape()[0]
}
