// Package decode turns the detector's grid outputs into image-space
// detections.
package decode

import (
	"image"
	"sort"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/nvr-ai/mobiledetectnet/inference"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Detection is one grid cell whose class score passed the threshold.
type Detection struct {
	// Box is in input pixels: the cell's normalized bbox times the input size.
	Box images.Box
	// Confidence is the class score of the cell.
	Confidence float32
	// Cell is the grid position (x, y) the detection came from.
	Cell image.Point
}

// Detections returns the cells of image index whose class score is at least
// confidence, ordered by descending confidence and then row-major cell.
//
// Arguments:
//   - out: Model outputs of either arity.
//   - index: The image within the batch.
//   - confidence: The minimum class score.
//   - inputW, inputH: The network input size the bboxes are scaled to.
//
// Returns:
//   - []Detection: The detections, possibly empty.
//   - error: If the outputs are malformed or index is out of range.
func Detections(out *inference.Outputs, index int, confidence float32, inputW, inputH int) ([]Detection, error) {
	bboxes, classes, err := grids(out, index)
	if err != nil {
		return nil, err
	}
	gh, gw := classes.Shape()[1], classes.Shape()[2]
	cls := classes.Data().([]float32)
	bb := bboxes.Data().([]float32)

	base := index * gh * gw
	var dets []Detection
	for y := 0; y < gh; y++ {
		for x := 0; x < gw; x++ {
			cell := base + y*gw + x
			score := cls[cell]
			if score < confidence {
				continue
			}
			b := bb[cell*4 : cell*4+4]
			dets = append(dets, Detection{
				Box: images.Box{
					X1: b[0] * float32(inputW),
					Y1: b[1] * float32(inputH),
					X2: b[2] * float32(inputW),
					Y2: b[3] * float32(inputH),
				},
				Confidence: score,
				Cell:       image.Pt(x, y),
			})
		}
	}

	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	return dets, nil
}

// Rectangles returns the detections of image index as integer rectangles,
// truncating coordinates toward zero.
func Rectangles(out *inference.Outputs, index int, confidence float32, inputW, inputH int) ([]image.Rectangle, error) {
	dets, err := Detections(out, index, confidence, inputW, inputH)
	if err != nil {
		return nil, err
	}
	rects := make([]image.Rectangle, len(dets))
	for i, d := range dets {
		rects[i] = d.Box.ToRect()
	}
	return rects, nil
}

// Heatmap renders the class scores of image index as a grayscale image of
// width x height, one nearest-neighbour block per cell.
func Heatmap(out *inference.Outputs, index, width, height int) (*image.Gray, error) {
	_, classes, err := grids(out, index)
	if err != nil {
		return nil, err
	}
	gh, gw := classes.Shape()[1], classes.Shape()[2]
	cls := classes.Data().([]float32)

	grid := image.NewGray(image.Rect(0, 0, gw, gh))
	base := index * gh * gw
	for i := 0; i < gh*gw; i++ {
		grid.Pix[i] = uint8(images.Clamp(float64(cls[base+i])*255, 0, 255) + 0.5)
	}
	if width == gw && height == gh {
		return grid, nil
	}

	scaled := resize.Resize(uint(width), uint(height), grid, resize.NearestNeighbor)
	g, ok := scaled.(*image.Gray)
	if !ok {
		return nil, errors.Errorf("unexpected heatmap image type %T", scaled)
	}
	return g, nil
}

// grids checks and returns contiguous bbox and class grids.
func grids(out *inference.Outputs, index int) (*tensor.Dense, *tensor.Dense, error) {
	if out == nil || out.BBoxes == nil || out.Classes == nil {
		return nil, nil, errors.New("outputs have no bboxes or classes")
	}
	cs, bs := out.Classes.Shape(), out.BBoxes.Shape()
	if len(cs) != 4 || cs[3] != 1 {
		return nil, nil, errors.Errorf("classes shape %v, want (N, H, W, 1)", cs)
	}
	if len(bs) != 4 || bs[0] != cs[0] || bs[1] != cs[1] || bs[2] != cs[2] || bs[3] != 4 {
		return nil, nil, errors.Errorf("bboxes shape %v does not match classes %v", bs, cs)
	}
	if index < 0 || index >= cs[0] {
		return nil, nil, errors.Errorf("image index %d out of range [0, %d)", index, cs[0])
	}
	if out.Classes.Dtype() != tensor.Float32 || out.BBoxes.Dtype() != tensor.Float32 {
		return nil, nil, errors.New("outputs must be float32")
	}
	return dense(out.BBoxes), dense(out.Classes), nil
}

func dense(t *tensor.Dense) *tensor.Dense {
	if !t.IsView() {
		return t
	}
	if d, ok := t.Materialize().(*tensor.Dense); ok {
		return d
	}
	return t
}
