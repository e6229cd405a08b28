// Package encoder turns ground-truth boxes into the dense per-cell training
// targets of the detector: anchor coverage, a regression box and a class flag.
package encoder

import (
	"github.com/nvr-ai/mobiledetectnet/anchors"
	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Threshold is the IoU an anchor must exceed to become responsible for a box.
const Threshold float32 = 0.3

// Targets are the encoded tensors of one image.
//
//	Coverage: (gridH, gridW, perCell), values in {0, 1}
//	BBoxes:   (gridH, gridW, 4), box normalized by the grid dims
//	Classes:  (gridH, gridW, 1), max over the cell's coverage
type Targets struct {
	Coverage *tensor.Dense
	BBoxes   *tensor.Dense
	Classes  *tensor.Dense
}

// ToGrid converts boxes from input pixel space into grid-cell units.
func ToGrid(boxes []images.Box, inputW, inputH, gridW, gridH int) []images.Box {
	sx := float32(gridW) / float32(inputW)
	sy := float32(gridH) / float32(inputH)
	out := make([]images.Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Scale(sx, sy)
	}
	return out
}

// match is the best candidate seen so far for one cell.
type match struct {
	iou float32
	box images.Box
	ok  bool
}

func (m match) beats(iou float32, box images.Box) bool {
	if !m.ok || iou > m.iou {
		return true
	}
	return iou == m.iou && box.Less(m.box)
}

// Encode matches boxes (in grid units) against every anchor of set.
//
// Each (cell, anchor) keeps the highest IoU above Threshold over all boxes,
// and each cell regresses onto the box with the highest IoU over its anchors.
// Equal IoUs resolve to the smallest box, so the result does not depend on the
// order of boxes. Coverage is then binarized and the class flag is the max of
// a cell's coverage.
//
// Arguments:
//   - boxes: Ground-truth boxes in grid-cell units.
//   - set: The anchor set.
//
// Returns:
//   - Targets: Freshly allocated tensors.
func Encode(boxes []images.Box, set *anchors.Set) Targets {
	gridW, gridH := set.Grid()
	k := set.PerCell()

	coverage := make([]float32, gridH*gridW*k)
	best := make([]match, gridH*gridW)

	for _, gt := range boxes {
		if gt.Area() == 0 {
			continue
		}
		for y := 0; y < gridH; y++ {
			for x := 0; x < gridW; x++ {
				cell := y*gridW + x
				for a := 0; a < k; a++ {
					iou := images.CalculateIoU(gt, set.At(y, x, a))
					if iou <= Threshold {
						continue
					}
					i := anchors.Index(y, x, a, gridW, k)
					if iou > coverage[i] {
						coverage[i] = iou
					}
					if best[cell].beats(iou, gt) {
						best[cell] = match{iou: iou, box: gt, ok: true}
					}
				}
			}
		}
	}

	bboxes := make([]float32, gridH*gridW*4)
	classes := make([]float32, gridH*gridW)
	gw, gh := float32(gridW), float32(gridH)

	for cell := range best {
		for a := 0; a < k; a++ {
			i := cell*k + a
			if coverage[i] > Threshold {
				coverage[i] = 1
				classes[cell] = 1
			} else {
				coverage[i] = 0
			}
		}
		if m := best[cell]; m.ok {
			o := cell * 4
			bboxes[o] = m.box.X1 / gw
			bboxes[o+1] = m.box.Y1 / gh
			bboxes[o+2] = m.box.X2 / gw
			bboxes[o+3] = m.box.Y2 / gh
		}
	}

	return Targets{
		Coverage: tensor.New(tensor.WithShape(gridH, gridW, k), tensor.WithBacking(coverage)),
		BBoxes:   tensor.New(tensor.WithShape(gridH, gridW, 4), tensor.WithBacking(bboxes)),
		Classes:  tensor.New(tensor.WithShape(gridH, gridW, 1), tensor.WithBacking(classes)),
	}
}

// EncodeInto copies one image's targets into slot of batch tensors shaped
// (N, gridH, gridW, ...).
func EncodeInto(coverage, bboxes, classes *tensor.Dense, slot int, t Targets) error {
	pairs := []struct {
		name     string
		dst, src *tensor.Dense
	}{
		{"coverage", coverage, t.Coverage},
		{"bboxes", bboxes, t.BBoxes},
		{"classes", classes, t.Classes},
	}
	for _, p := range pairs {
		dst := p.dst.Data().([]float32)
		src := p.src.Data().([]float32)
		n := p.dst.Shape()[0]
		if slot < 0 || slot >= n {
			return errors.Errorf("%s: slot %d out of range [0, %d)", p.name, slot, n)
		}
		if len(dst) != n*len(src) {
			return errors.Errorf("%s: batch tensor %v does not fit targets %v", p.name, p.dst.Shape(), p.src.Shape())
		}
		copy(dst[slot*len(src):], src)
	}
	return nil
}
