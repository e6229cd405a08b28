package inference

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ProbeModelName is the registered name of ProbeModel.
const ProbeModelName = "probe"

// ProbeScaleWeight is the single parameter ProbeModel reads.
const ProbeScaleWeight = "probe/scale"

func init() {
	RegisterGraphModel(ProbeModel{})
}

// ProbeModel is a minimal stand-in network with the detector's output
// contract. It reads the top-left gridH x gridW patch [c0, c1, c2] of the
// input:
//
//	bboxes  = scale * [c0, c1, c1, c2]
//	classes = sigmoid(c0 + 2*c1 + c2)
//	region  = classes repeated once per anchor
//
// It checks engine plumbing and weight binding end to end without the real
// network.
type ProbeModel struct{}

// Name returns ProbeModelName.
func (ProbeModel) Name() string { return ProbeModelName }

// ProbeWeights returns an artifact holding the probe scale.
func ProbeWeights(scale float32) *Weights {
	w := NewWeights()
	w.SetScalar(ProbeScaleWeight, scale)
	return w
}

// Build adds the probe network to g.
func (ProbeModel) Build(g *G.ExprGraph, input *G.Node, w *Weights, cfg EngineConfig) (Heads, error) {
	n := input.Shape()[0]
	gh, gw := cfg.GridHeight, cfg.GridWidth

	rows, err := prefix(gh, cfg.InputHeight)
	if err != nil {
		return Heads{}, err
	}
	cols, err := prefix(gw, cfg.InputWidth)
	if err != nil {
		return Heads{}, err
	}

	// Size-1 ranges collapse their axis, so channels are taken in pairs.
	lo, err := G.Slice(input, nil, rows, cols, G.S(0, 2))
	if err != nil {
		return Heads{}, errors.Wrap(err, "slice channels 0-1")
	}
	hi, err := G.Slice(input, nil, rows, cols, G.S(1, 3))
	if err != nil {
		return Heads{}, errors.Wrap(err, "slice channels 1-2")
	}
	raw, err := G.Concat(3, lo, hi)
	if err != nil {
		return Heads{}, errors.Wrap(err, "concat bboxes")
	}

	scale, err := w.Node(g, ProbeScaleWeight)
	if err != nil {
		return Heads{}, err
	}
	bboxes, err := G.Mul(raw, scale)
	if err != nil {
		return Heads{}, errors.Wrap(err, "scale bboxes")
	}

	sum, err := G.Sum(raw, 3)
	if err != nil {
		return Heads{}, errors.Wrap(err, "sum channels")
	}
	logits, err := G.Reshape(sum, tensor.Shape{n, gh, gw, 1})
	if err != nil {
		return Heads{}, errors.Wrap(err, "reshape logits")
	}
	classes, err := G.Sigmoid(logits)
	if err != nil {
		return Heads{}, errors.Wrap(err, "classes")
	}

	region := classes
	if cfg.Anchors > 1 {
		copies := make([]*G.Node, cfg.Anchors)
		for i := range copies {
			copies[i] = classes
		}
		if region, err = G.Concat(3, copies...); err != nil {
			return Heads{}, errors.Wrap(err, "concat region")
		}
	}

	return Heads{Region: region, BBoxes: bboxes, Classes: classes}, nil
}

// prefix slices the first n of size entries along an axis.
func prefix(n, size int) (tensor.Slice, error) {
	switch {
	case n == size:
		return nil, nil
	case n < 2 || n > size:
		return nil, errors.Errorf("probe model cannot take %d of %d rows or columns", n, size)
	}
	return G.S(0, n), nil
}
