package images

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// ColorMode defines the channel order written into input tensors.
type ColorMode int

const (
	// ColorModeBGR is the order OpenCV reads images in. The trained weights expect it.
	ColorModeBGR ColorMode = iota
	// ColorModeRGB is standard RGB order.
	ColorModeRGB
)

// Normalize maps an 8-bit channel value into [-1, 1] ("tf" style).
func Normalize(v uint8) float32 {
	return float32(v)/127.5 - 1
}

// Denormalize is the inverse of Normalize, clamped to [0, 255].
func Denormalize(v float32) uint8 {
	return uint8(Clamp(float64((v+1)*127.5), 0, 255) + 0.5)
}

// PackHWC writes img into dst as height x width x 3 values in [-1, 1].
//
// Arguments:
//   - dst: Destination slice, at least width*height*3 long.
//   - img: The source image.
//   - mode: The channel order to write.
//
// Returns:
//   - error: If dst is too small.
func PackHWC(dst []float32, img *image.RGBA, mode ColorMode) error {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if len(dst) < w*h*3 {
		return errors.Errorf("tensor slot too small: has %d, needs %d", len(dst), w*h*3)
	}

	Parallel(h, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				p := img.PixOffset(b.Min.X+x, b.Min.Y+y)
				o := (y*w + x) * 3
				r, g, bl := img.Pix[p], img.Pix[p+1], img.Pix[p+2]
				if mode == ColorModeBGR {
					r, bl = bl, r
				}
				dst[o] = Normalize(r)
				dst[o+1] = Normalize(g)
				dst[o+2] = Normalize(bl)
			}
		}
	})
	return nil
}

// UnpackHWC rebuilds an image from a height x width x 3 slice in [-1, 1].
func UnpackHWC(src []float32, width, height int, mode ColorMode) (*image.RGBA, error) {
	if len(src) < width*height*3 {
		return nil, errors.Errorf("tensor slot too small: has %d, needs %d", len(src), width*height*3)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := (y*width + x) * 3
			c0, c1, c2 := Denormalize(src[o]), Denormalize(src[o+1]), Denormalize(src[o+2])
			if mode == ColorModeBGR {
				c0, c2 = c2, c0
			}
			img.SetRGBA(x, y, color.RGBA{R: c0, G: c1, B: c2, A: 255})
		}
	}
	return img, nil
}
