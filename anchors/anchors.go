// Package anchors generates the fixed multi-scale, multi-aspect anchor boxes
// that ground-truth boxes are matched against.
package anchors

import (
	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var (
	// DefaultScales are the anchor side lengths in grid cells.
	DefaultScales = []float32{1, 2, 3}
	// DefaultAspects are the width/height ratios applied at every scale.
	DefaultAspects = []float32{1, 4.0 / 3.0, 3.0 / 4.0}
)

// Index linearizes (cellY, cellX, k) into the flat anchor order shared by the
// generator and the target encoder.
func Index(cellY, cellX, k, gridW, perCell int) int {
	return cellY*gridW*perCell + cellX*perCell + k
}

// Set is an immutable, ordered collection of anchors over a grid.
type Set struct {
	gridW, gridH int
	perCell      int
	boxes        []images.Box
}

// Generate builds the anchors for a gridW x gridH grid.
//
// Every anchor starts as the unit cell [x, y, x+1, y+1] and is scaled about its
// centre by scale*aspect horizontally and scale/aspect vertically. Anchor k of a
// cell is scaleIdx*len(aspects) + aspectIdx.
//
// Arguments:
//   - gridW: Number of cells across.
//   - gridH: Number of cells down.
//   - scales: Anchor scales in cells.
//   - aspects: Width/height ratios.
//
// Returns:
//   - *Set: The anchors in Index order.
//   - error: If the grid or the scale/aspect tables are empty or non-positive.
func Generate(gridW, gridH int, scales, aspects []float32) (*Set, error) {
	if gridW <= 0 || gridH <= 0 {
		return nil, errors.Errorf("invalid grid %dx%d", gridW, gridH)
	}
	if len(scales) == 0 || len(aspects) == 0 {
		return nil, errors.New("anchor scales and aspects must not be empty")
	}
	for _, v := range append(append([]float32{}, scales...), aspects...) {
		if v <= 0 {
			return nil, errors.Errorf("anchor scale and aspect must be positive, got %v", v)
		}
	}

	perCell := len(scales) * len(aspects)
	s := &Set{
		gridW:   gridW,
		gridH:   gridH,
		perCell: perCell,
		boxes:   make([]images.Box, gridW*gridH*perCell),
	}

	for y := 0; y < gridH; y++ {
		for x := 0; x < gridW; x++ {
			cx, cy := float32(x)+0.5, float32(y)+0.5
			for si, scale := range scales {
				for ai, aspect := range aspects {
					hw := scale * aspect / 2
					hh := scale / aspect / 2
					k := si*len(aspects) + ai
					s.boxes[Index(y, x, k, gridW, perCell)] = images.Box{
						X1: cx - hw,
						Y1: cy - hh,
						X2: cx + hw,
						Y2: cy + hh,
					}
				}
			}
		}
	}

	return s, nil
}

// Default returns the 9-anchor set for a gridW x gridH grid.
func Default(gridW, gridH int) (*Set, error) {
	return Generate(gridW, gridH, DefaultScales, DefaultAspects)
}

// At returns anchor k of cell (y, x).
func (s *Set) At(y, x, k int) images.Box {
	return s.boxes[Index(y, x, k, s.gridW, s.perCell)]
}

// Len returns the total number of anchors.
func (s *Set) Len() int { return len(s.boxes) }

// PerCell returns the number of anchors in every cell.
func (s *Set) PerCell() int { return s.perCell }

// Grid returns the grid width and height.
func (s *Set) Grid() (int, int) { return s.gridW, s.gridH }

// Boxes returns a copy of all anchors in Index order.
func (s *Set) Boxes() []images.Box {
	out := make([]images.Box, len(s.boxes))
	copy(out, s.boxes)
	return out
}

// Tensor exports the anchors as a (gridH, gridW, perCell, 4) tensor of
// x1, y1, x2, y2 in grid units.
func (s *Set) Tensor() *tensor.Dense {
	backing := make([]float32, 0, len(s.boxes)*4)
	for _, b := range s.boxes {
		backing = append(backing, b.X1, b.Y1, b.X2, b.Y2)
	}
	return tensor.New(
		tensor.WithShape(s.gridH, s.gridW, s.perCell, 4),
		tensor.WithBacking(backing),
	)
}
