package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func TestGenerateGaussianKernel(t *testing.T) {
	kernel := GenerateGaussianKernel(3, 1.0)
	require.Len(t, kernel, 7)

	sum := 0.0
	for _, v := range kernel {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, kernel[0], kernel[6], 1e-12, "kernel is symmetric")
	assert.Greater(t, kernel[3], kernel[2])
}

func TestBlur(t *testing.T) {
	t.Run("uniform image is unchanged", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 32, 32))
		for i := range img.Pix {
			img.Pix[i] = 200
		}
		out := Blur(img, 1.0)
		for _, v := range out.Pix {
			assert.Equal(t, uint8(200), v)
		}
	})

	t.Run("small sigma copies", func(t *testing.T) {
		img := getTestImage(16, 16)
		out := Blur(img, 0.01)
		assert.Equal(t, img.Pix, out.Pix)
		out.Pix[0] = 7
		assert.NotEqual(t, img.Pix[0], out.Pix[0], "result must not alias the source")
	})

	t.Run("edge is smoothed", func(t *testing.T) {
		img := image.NewRGBA(image.Rect(0, 0, 20, 4))
		for y := 0; y < 4; y++ {
			for x := 10; x < 20; x++ {
				img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			}
		}
		out := Blur(img, 1.0)
		r := out.RGBAAt(10, 2).R
		assert.Greater(t, r, uint8(0))
		assert.Less(t, r, uint8(255))
	})
}

func TestResize(t *testing.T) {
	img := getTestImage(640, 480)
	out := Resize(img, 224, 224)
	assert.Equal(t, image.Rect(0, 0, 224, 224), out.Bounds())

	same := Resize(out, 224, 224)
	assert.Equal(t, out.Pix, same.Pix)
}

func TestParallel(t *testing.T) {
	for _, n := range []int{0, 1, 3, 100, 1001} {
		seen := make([]int, n)
		Parallel(n, func(start, end int) {
			for i := start; i < end; i++ {
				seen[i]++
			}
		})
		for i, c := range seen {
			assert.Equal(t, 1, c, "index %d of %d", i, n)
		}
	}
}
