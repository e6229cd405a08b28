package augment

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"

	"github.com/nvr-ai/mobiledetectnet/images"
)

// Fliplr mirrors the image horizontally with probability P.
type Fliplr struct {
	P float64
}

func (f Fliplr) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	if rng.Float64() >= f.P {
		return img, boxes
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	images.Parallel(h, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < w; x++ {
				s := img.PixOffset(b.Min.X+w-1-x, b.Min.Y+y)
				d := dst.PixOffset(x, y)
				copy(dst.Pix[d:d+4], img.Pix[s:s+4])
			}
		}
	})

	fw := float32(w)
	out := make([]images.Box, len(boxes))
	for i, bx := range boxes {
		out[i] = images.Box{X1: fw - bx.X2, Y1: bx.Y1, X2: fw - bx.X1, Y2: bx.Y2, Label: bx.Label}
	}
	return dst, out
}

// CropAndPad pads every side by the same random number of pixels in
// [0, MaxPx] and resizes the result back to the original size.
type CropAndPad struct {
	MaxPx int
}

func (c CropAndPad) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	px := rng.Intn(c.MaxPx + 1)
	if px == 0 {
		return img, boxes
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	padded := image.NewRGBA(image.Rect(0, 0, w+2*px, h+2*px))
	draw.Draw(padded, padded.Bounds(), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	draw.Draw(padded, image.Rect(px, px, px+w, px+h), img, b.Min, draw.Src)

	sx := float32(w) / float32(w+2*px)
	sy := float32(h) / float32(h+2*px)
	out := make([]images.Box, len(boxes))
	for i, bx := range boxes {
		out[i] = bx.Shift(float32(px), float32(px)).Scale(sx, sy)
	}
	return images.Resize(padded, w, h), out
}

// Translate shifts the image by a random fraction in [-Fraction, Fraction] of
// its size along each axis. Uncovered pixels are black.
type Translate struct {
	Fraction float64
}

func (t Translate) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	b := img.Bounds()
	tx := uniform(rng, -t.Fraction, t.Fraction) * float64(b.Dx())
	ty := uniform(rng, -t.Fraction, t.Fraction) * float64(b.Dy())

	out := make([]images.Box, len(boxes))
	for i, bx := range boxes {
		out[i] = bx.Shift(float32(tx), float32(ty))
	}
	return warp(img, affine{a: 1, c: tx, e: 1, f: ty}), out
}

// Scale zooms the image about its centre by independent factors per axis
// drawn from [Min, Max].
type Scale struct {
	Min, Max float64
}

func (s Scale) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	b := img.Bounds()
	sx := uniform(rng, s.Min, s.Max)
	sy := uniform(rng, s.Min, s.Max)
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2

	m := affine{a: sx, c: cx - sx*cx, e: sy, f: cy - sy*cy}
	out := make([]images.Box, len(boxes))
	for i, bx := range boxes {
		x1, y1 := m.apply(float64(bx.X1), float64(bx.Y1))
		x2, y2 := m.apply(float64(bx.X2), float64(bx.Y2))
		out[i] = images.Box{X1: float32(x1), Y1: float32(y1), X2: float32(x2), Y2: float32(y2), Label: bx.Label}
	}
	return warp(img, m), out
}

// HueSaturation adds one random value in [-Max, Max] to both hue and
// saturation. Hue is on the OpenCV 0-180 scale and wraps; saturation clips.
type HueSaturation struct {
	Max int
}

func (hs HueSaturation) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	v := float64(rng.Intn(2*hs.Max+1) - hs.Max)
	dst := images.ToRGBA(img)
	if v == 0 {
		return dst, boxes
	}

	for i := 0; i < len(dst.Pix); i += 4 {
		h, s, val := rgbToHSV(dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2])
		h = math.Mod(h+v, 180)
		if h < 0 {
			h += 180
		}
		s = images.Clamp(s+v, 0, 255)
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = hsvToRGB(h, s, val)
	}
	return dst, boxes
}

// GaussianBlur blurs with sigma drawn from [0, MaxSigma].
type GaussianBlur struct {
	MaxSigma float64
}

func (g GaussianBlur) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	return images.Blur(img, rng.Float64()*g.MaxSigma), boxes
}

// GaussianNoise adds zero-mean noise with standard deviation Sigma. Each
// pixel gets one draw shared by its color channels.
type GaussianNoise struct {
	Sigma float64
}

func (g GaussianNoise) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	dst := images.ToRGBA(img)
	for i := 0; i < len(dst.Pix); i += 4 {
		n := rng.NormFloat64() * g.Sigma
		for c := 0; c < 3; c++ {
			dst.Pix[i+c] = uint8(images.Clamp(float64(dst.Pix[i+c])+n, 0, 255) + 0.5)
		}
	}
	return dst, boxes
}

// affine maps (x, y) to (a*x + c, e*y + f). Shear is never needed.
type affine struct {
	a, c, e, f float64
}

func (m affine) apply(x, y float64) (float64, float64) {
	return m.a*x + m.c, m.e*y + m.f
}

// warp resamples img under m with bilinear interpolation. Pixels mapping from
// outside the source are black.
func warp(img *image.RGBA, m affine) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	images.Parallel(h, func(start, end int) {
		for y := start; y < end; y++ {
			// Sample at pixel centres.
			sy := (float64(y)+0.5-m.f)/m.e - 0.5
			for x := 0; x < w; x++ {
				sx := (float64(x)+0.5-m.c)/m.a - 0.5
				d := dst.PixOffset(x, y)
				dst.Pix[d+3] = 255
				bilinear(img, sx, sy, dst.Pix[d:d+3])
			}
		}
	})
	return dst
}

func bilinear(img *image.RGBA, sx, sy float64, out []uint8) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
	fx, fy := sx-float64(x0), sy-float64(y0)

	var acc [3]float64
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			px, py := x0+dx, y0+dy
			if px < 0 || py < 0 || px >= w || py >= h {
				continue
			}
			wx := fx
			if dx == 0 {
				wx = 1 - fx
			}
			wy := fy
			if dy == 0 {
				wy = 1 - fy
			}
			o := img.PixOffset(b.Min.X+px, b.Min.Y+py)
			for c := 0; c < 3; c++ {
				acc[c] += float64(img.Pix[o+c]) * wx * wy
			}
		}
	}
	for c := 0; c < 3; c++ {
		out[c] = uint8(images.Clamp(acc[c], 0, 255) + 0.5)
	}
}

// rgbToHSV uses the OpenCV 8-bit convention: h in [0, 180), s and v in [0, 255].
func rgbToHSV(r, g, b uint8) (float64, float64, float64) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	mx := math.Max(rf, math.Max(gf, bf))
	mn := math.Min(rf, math.Min(gf, bf))
	d := mx - mn

	var h, s float64
	if mx > 0 {
		s = d / mx * 255
	}
	if d > 0 {
		switch mx {
		case rf:
			h = 60 * (gf - bf) / d
		case gf:
			h = 60*(bf-rf)/d + 120
		default:
			h = 60*(rf-gf)/d + 240
		}
		if h < 0 {
			h += 360
		}
	}
	return h / 2, s, mx
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	h *= 2
	sf := s / 255
	c := v * sf
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return uint8(images.Clamp(r+m, 0, 255) + 0.5),
		uint8(images.Clamp(g+m, 0, 255) + 0.5),
		uint8(images.Clamp(b+m, 0, 255) + 0.5)
}
