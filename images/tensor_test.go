package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, float32(-1), Normalize(0))
	assert.Equal(t, float32(1), Normalize(255))
	assert.InDelta(t, 0.0, Normalize(127), 0.01)

	for _, v := range []uint8{0, 1, 64, 127, 128, 200, 255} {
		assert.Equal(t, v, Denormalize(Normalize(v)))
	}
	assert.Equal(t, uint8(0), Denormalize(-3))
	assert.Equal(t, uint8(255), Denormalize(3))
}

func TestPackHWC(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, G: 0, B: 0, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 0, G: 255, B: 255, A: 255})

	t.Run("bgr", func(t *testing.T) {
		dst := make([]float32, 6)
		require.NoError(t, PackHWC(dst, img, ColorModeBGR))
		assert.Equal(t, []float32{-1, -1, 1, 1, 1, -1}, dst)
	})

	t.Run("rgb", func(t *testing.T) {
		dst := make([]float32, 6)
		require.NoError(t, PackHWC(dst, img, ColorModeRGB))
		assert.Equal(t, []float32{1, -1, -1, -1, 1, 1}, dst)
	})

	t.Run("slot too small", func(t *testing.T) {
		assert.Error(t, PackHWC(make([]float32, 5), img, ColorModeBGR))
	})

	t.Run("round trip", func(t *testing.T) {
		src := getTestImage(9, 7)
		dst := make([]float32, 9*7*3)
		require.NoError(t, PackHWC(dst, src, ColorModeBGR))
		back, err := UnpackHWC(dst, 9, 7, ColorModeBGR)
		require.NoError(t, err)
		assert.Equal(t, src.Pix, back.Pix)
	})
}

func TestFileReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, getTestImage(640, 480)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	img, size, err := FileReader{}.Read(path, 224, 224)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(640, 480), size)
	assert.Equal(t, image.Rect(0, 0, 224, 224), img.Bounds())

	_, _, err = FileReader{}.Read(filepath.Join(dir, "missing.png"), 224, 224)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.png"), []byte("not an image"), 0o644))
	_, _, err = FileReader{}.Read(filepath.Join(dir, "junk.png"), 224, 224)
	assert.Error(t, err)
}
