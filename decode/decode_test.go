package decode

import (
	"image"
	"testing"

	"github.com/nvr-ai/mobiledetectnet/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// gridOutputs builds 2-image, 7x7 outputs where image 1 has two hits.
func gridOutputs(t *testing.T) *inference.Outputs {
	t.Helper()
	bboxes := tensor.New(tensor.WithShape(2, 7, 7, 4), tensor.Of(tensor.Float32))
	classes := tensor.New(tensor.WithShape(2, 7, 7, 1), tensor.Of(tensor.Float32))

	set := func(n, y, x int, score float32, box [4]float32) {
		require.NoError(t, classes.SetAt(score, n, y, x, 0))
		for i, v := range box {
			require.NoError(t, bboxes.SetAt(v, n, y, x, i))
		}
	}
	set(0, 0, 0, 0.05, [4]float32{0, 0, 0.1, 0.1})
	set(1, 3, 3, 0.6, [4]float32{3.0 / 7, 3.0 / 7, 4.0 / 7, 4.0 / 7})
	set(1, 5, 1, 0.9, [4]float32{0.1, 0.7, 0.3, 0.9})
	set(1, 6, 6, 0.1, [4]float32{0.9, 0.9, 1, 1})

	out, err := inference.FromTuple([]*tensor.Dense{bboxes, classes})
	require.NoError(t, err)
	return out
}

func TestDetections(t *testing.T) {
	out := gridOutputs(t)

	dets, err := Detections(out, 1, 0.5, 224, 224)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, image.Pt(1, 5), dets[0].Cell)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.InDelta(t, 22.4, dets[0].Box.X1, 1e-3)
	assert.InDelta(t, 201.6, dets[0].Box.Y2, 1e-3)

	assert.Equal(t, image.Pt(3, 3), dets[1].Cell)
	assert.InDelta(t, 96, dets[1].Box.X1, 1e-3)
	assert.InDelta(t, 128, dets[1].Box.X2, 1e-3)
}

func TestDetections_ThresholdInclusive(t *testing.T) {
	dets, err := Detections(gridOutputs(t), 1, 0.1, 224, 224)
	require.NoError(t, err)
	assert.Len(t, dets, 3)

	dets, err = Detections(gridOutputs(t), 0, 0.1, 224, 224)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestRectangles(t *testing.T) {
	rects, err := Rectangles(gridOutputs(t), 1, 0.5, 224, 224)
	require.NoError(t, err)
	assert.Equal(t, []image.Rectangle{
		image.Rect(22, 156, 67, 201),
		image.Rect(96, 96, 128, 128),
	}, rects)
}

func TestRectangles_NonSquareInput(t *testing.T) {
	rects, err := Rectangles(gridOutputs(t), 1, 0.5, 700, 140)
	require.NoError(t, err)
	require.Len(t, rects, 2)
	assert.Equal(t, image.Rect(300, 60, 400, 80), rects[1])
}

func TestDetections_BaselineArity(t *testing.T) {
	two := gridOutputs(t)
	region := tensor.New(tensor.WithShape(2, 7, 7, 9), tensor.Of(tensor.Float32))
	three, err := inference.FromTuple([]*tensor.Dense{region, two.BBoxes, two.Classes})
	require.NoError(t, err)

	a, err := Rectangles(two, 1, 0.5, 224, 224)
	require.NoError(t, err)
	b, err := Rectangles(three, 1, 0.5, 224, 224)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDetections_Errors(t *testing.T) {
	out := gridOutputs(t)

	_, err := Detections(out, 2, 0.5, 224, 224)
	assert.ErrorContains(t, err, "out of range")
	_, err = Detections(out, -1, 0.5, 224, 224)
	assert.Error(t, err)
	_, err = Detections(nil, 0, 0.5, 224, 224)
	assert.Error(t, err)

	bad := &inference.Outputs{
		BBoxes:  tensor.New(tensor.WithShape(2, 7, 7, 3), tensor.Of(tensor.Float32)),
		Classes: out.Classes,
	}
	_, err = Detections(bad, 0, 0.5, 224, 224)
	assert.ErrorContains(t, err, "does not match")
}

func TestHeatmap(t *testing.T) {
	out := gridOutputs(t)

	small, err := Heatmap(out, 1, 7, 7)
	require.NoError(t, err)
	assert.Equal(t, uint8(153), small.GrayAt(3, 3).Y)
	assert.Equal(t, uint8(0), small.GrayAt(0, 0).Y)

	big, err := Heatmap(out, 1, 224, 224)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 224, 224), big.Bounds())
	for y := 0; y < 7; y++ {
		for x := 0; x < 7; x++ {
			assert.Equal(t, small.GrayAt(x, y).Y, big.GrayAt(x*32+16, y*32+16).Y, "cell (%d, %d)", x, y)
		}
	}
}
