// Package images - Image processing utilities
package images

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Box is a floating point bounding box with an optional class label.
//
// The coordinate space (input pixels or grid cells) is decided by whoever
// produces the box. X2,Y2 are the far edges, so a unit box is {0, 0, 1, 1}.
type Box struct {
	X1, Y1, X2, Y2 float32
	Label          string
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the area of the box, or 0 for inverted or degenerate boxes.
func (b Box) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Center returns the center point of the box.
func (b Box) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Scale multiplies the x coordinates by sx and the y coordinates by sy.
func (b Box) Scale(sx, sy float32) Box {
	return Box{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy, Label: b.Label}
}

// Shift translates the box by dx, dy.
func (b Box) Shift(dx, dy float32) Box {
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy, Label: b.Label}
}

// IsOutOf reports whether the box lies entirely outside the width x height
// image. Boxes touching an edge only along a line are outside too.
func (b Box) IsOutOf(width, height float32) bool {
	return b.X2 <= 0 || b.Y2 <= 0 || b.X1 >= width || b.Y1 >= height
}

// Clip restricts the box to the width x height image.
func (b Box) Clip(width, height float32) Box {
	return Box{
		X1:    clamp32(b.X1, 0, width),
		Y1:    clamp32(b.Y1, 0, height),
		X2:    clamp32(b.X2, 0, width),
		Y2:    clamp32(b.Y2, 0, height),
		Label: b.Label,
	}
}

// Less orders boxes by (X1, Y1, X2, Y2). It is used to break ties
// deterministically, independent of the order boxes were seen.
func (b Box) Less(o Box) bool {
	if b.X1 != o.X1 {
		return b.X1 < o.X1
	}
	if b.Y1 != o.Y1 {
		return b.Y1 < o.Y1
	}
	if b.X2 != o.X2 {
		return b.X2 < o.X2
	}
	return b.Y2 < o.Y2
}

// ToRect converts the box to an image.Rectangle, truncating toward zero.
func (b Box) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

func (b Box) String() string {
	return fmt.Sprintf("Box %q: (%f, %f), (%f, %f)", b.Label, b.X1, b.Y1, b.X2, b.Y2)
}

// CalculateIoU returns the Intersection over Union of two boxes.
//
// The intersection corner is the max of the top-left corners and the min of the
// bottom-right corners. When its width or height is not positive the boxes do
// not overlap and the IoU is 0. The union uses inclusion-exclusion:
//
//	Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
//
// A degenerate pair (zero union) also yields 0.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(a, b) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Box) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
