package encoder

import (
	"math/rand"
	"testing"

	"github.com/nvr-ai/mobiledetectnet/anchors"
	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func defaultSet(t *testing.T) *anchors.Set {
	t.Helper()
	set, err := anchors.Default(7, 7)
	require.NoError(t, err)
	return set
}

func at(t *testing.T, d *tensor.Dense, coords ...int) float32 {
	t.Helper()
	v, err := d.At(coords...)
	require.NoError(t, err)
	return v.(float32)
}

func sum(d *tensor.Dense) float32 {
	var s float32
	for _, v := range d.Data().([]float32) {
		s += v
	}
	return s
}

func randomBoxes(rng *rand.Rand, n int) []images.Box {
	boxes := make([]images.Box, n)
	for i := range boxes {
		x1, y1 := rng.Float32()*6, rng.Float32()*6
		boxes[i] = images.Box{
			X1: x1,
			Y1: y1,
			X2: x1 + 0.5 + rng.Float32()*3,
			Y2: y1 + 0.5 + rng.Float32()*3,
		}
	}
	return boxes
}

func TestEncode_Shapes(t *testing.T) {
	tg := Encode(nil, defaultSet(t))
	assert.Equal(t, tensor.Shape{7, 7, 9}, tg.Coverage.Shape())
	assert.Equal(t, tensor.Shape{7, 7, 4}, tg.BBoxes.Shape())
	assert.Equal(t, tensor.Shape{7, 7, 1}, tg.Classes.Shape())
}

func TestEncode_Empty(t *testing.T) {
	tg := Encode([]images.Box{}, defaultSet(t))
	assert.Zero(t, sum(tg.Coverage))
	assert.Zero(t, sum(tg.BBoxes))
	assert.Zero(t, sum(tg.Classes))
}

func TestEncode_UnitCellBox(t *testing.T) {
	tg := Encode([]images.Box{{X1: 3, Y1: 3, X2: 4, Y2: 4}}, defaultSet(t))

	assert.Equal(t, float32(1), at(t, tg.Coverage, 3, 3, 0))
	// The 4:3 and 3:4 unit anchors overlap with IoU 0.6.
	assert.Equal(t, float32(1), at(t, tg.Coverage, 3, 3, 1))
	assert.Equal(t, float32(1), at(t, tg.Coverage, 3, 3, 2))
	// The 2x2 anchor only reaches 0.25.
	assert.Equal(t, float32(0), at(t, tg.Coverage, 3, 3, 3))

	assert.Equal(t, float32(1), sum(tg.Classes), "only the containing cell is positive")
	assert.Equal(t, float32(1), at(t, tg.Classes, 3, 3, 0))

	assert.InDelta(t, 3.0/7.0, at(t, tg.BBoxes, 3, 3, 0), 1e-6)
	assert.InDelta(t, 3.0/7.0, at(t, tg.BBoxes, 3, 3, 1), 1e-6)
	assert.InDelta(t, 4.0/7.0, at(t, tg.BBoxes, 3, 3, 2), 1e-6)
	assert.InDelta(t, 4.0/7.0, at(t, tg.BBoxes, 3, 3, 3), 1e-6)
}

func TestEncode_ThreeCellBox(t *testing.T) {
	tg := Encode([]images.Box{{X1: 2, Y1: 2, X2: 5, Y2: 5}}, defaultSet(t))

	assert.Equal(t, float32(1), at(t, tg.Coverage, 3, 3, 6), "3x3 square anchor matches exactly")
	assert.Equal(t, float32(1), at(t, tg.Classes, 3, 3, 0))
	assert.InDelta(t, 2.0/7.0, at(t, tg.BBoxes, 3, 3, 0), 1e-6)
	assert.InDelta(t, 5.0/7.0, at(t, tg.BBoxes, 3, 3, 3), 1e-6)

	// Far corners never overlap the box.
	assert.Equal(t, float32(0), at(t, tg.Classes, 0, 0, 0))
	assert.Equal(t, float32(0), at(t, tg.Classes, 6, 6, 0))
}

// The largest anchor covers 9 cells, so a box spanning the whole 7x7 grid has
// at most IoU 9/49 with any anchor and stays below the threshold.
func TestEncode_FullGridBox(t *testing.T) {
	set := defaultSet(t)
	full := images.Box{X1: 0, Y1: 0, X2: 7, Y2: 7}

	var maxIoU float32
	for _, a := range set.Boxes() {
		if iou := images.CalculateIoU(full, a); iou > maxIoU {
			maxIoU = iou
		}
	}
	assert.InDelta(t, 9.0/49.0, maxIoU, 1e-6)

	tg := Encode([]images.Box{full}, set)
	assert.Zero(t, sum(tg.Coverage))
	assert.Zero(t, sum(tg.Classes))
}

func TestEncode_ZeroAreaBox(t *testing.T) {
	tg := Encode([]images.Box{{X1: 3, Y1: 3, X2: 3, Y2: 5}, {X1: 1, Y1: 1, X2: 1, Y2: 1}}, defaultSet(t))
	assert.Zero(t, sum(tg.Coverage))
	assert.Zero(t, sum(tg.BBoxes))
}

func TestEncode_OrderIndependent(t *testing.T) {
	set := defaultSet(t)
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		boxes := randomBoxes(rng, 1+rng.Intn(6))
		// Mirrored pairs tie on IoU for the cells between them.
		boxes = append(boxes, images.Box{X1: 3, Y1: 3, X2: 4, Y2: 5}, images.Box{X1: 3, Y1: 2, X2: 4, Y2: 4})

		want := Encode(boxes, set)

		shuffled := append([]images.Box(nil), boxes...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := Encode(shuffled, set)

		assert.Equal(t, want.Coverage.Data(), got.Coverage.Data())
		assert.Equal(t, want.BBoxes.Data(), got.BBoxes.Data())
		assert.Equal(t, want.Classes.Data(), got.Classes.Data())
	}
}

func TestEncode_BinaryCoverageAndClassConsistency(t *testing.T) {
	set := defaultSet(t)
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		tg := Encode(randomBoxes(rng, 1+rng.Intn(8)), set)
		coverage := tg.Coverage.Data().([]float32)
		classes := tg.Classes.Data().([]float32)
		bboxes := tg.BBoxes.Data().([]float32)

		for _, v := range coverage {
			require.True(t, v == 0 || v == 1, "coverage value %v", v)
		}
		for cell := 0; cell < 49; cell++ {
			var m float32
			for k := 0; k < 9; k++ {
				if v := coverage[cell*9+k]; v > m {
					m = v
				}
			}
			assert.Equal(t, m, classes[cell])
			if classes[cell] == 0 {
				assert.Equal(t, []float32{0, 0, 0, 0}, bboxes[cell*4:cell*4+4])
			}
		}
	}
}

func TestToGrid(t *testing.T) {
	boxes := ToGrid([]images.Box{{X1: 32, Y1: 64, X2: 96, Y2: 128, Label: "car"}}, 224, 224, 7, 7)
	require.Len(t, boxes, 1)
	assert.Equal(t, images.Box{X1: 1, Y1: 2, X2: 3, Y2: 4, Label: "car"}, boxes[0])
}

func TestEncodeInto(t *testing.T) {
	set := defaultSet(t)
	tg := Encode([]images.Box{{X1: 2, Y1: 2, X2: 5, Y2: 5}}, set)

	coverage := tensor.New(tensor.WithShape(2, 7, 7, 9), tensor.Of(tensor.Float32))
	bboxes := tensor.New(tensor.WithShape(2, 7, 7, 4), tensor.Of(tensor.Float32))
	classes := tensor.New(tensor.WithShape(2, 7, 7, 1), tensor.Of(tensor.Float32))

	require.NoError(t, EncodeInto(coverage, bboxes, classes, 1, tg))

	cov := coverage.Data().([]float32)
	assert.Equal(t, tg.Coverage.Data(), cov[7*7*9:])
	for _, v := range cov[:7*7*9] {
		assert.Zero(t, v)
	}
	assert.Equal(t, tg.BBoxes.Data(), bboxes.Data().([]float32)[7*7*4:])
	assert.Equal(t, tg.Classes.Data(), classes.Data().([]float32)[7*7:])

	assert.Error(t, EncodeInto(coverage, bboxes, classes, 2, tg))
	wrong := tensor.New(tensor.WithShape(2, 5, 5, 9), tensor.Of(tensor.Float32))
	assert.Error(t, EncodeInto(wrong, bboxes, classes, 0, tg))
}
