// Package images - pixel operations used by the augmentation and preprocessing
// pipelines.
package images

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"runtime"
	"sync"
)

// ToRGBA returns img as an *image.RGBA with bounds starting at the origin.
// The input is copied even if it already is an *image.RGBA.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Blur applies a separable Gaussian blur to an image.
//
// Arguments:
// - img: The source image to blur.
// - sigma: Standard deviation of the Gaussian kernel (controls blur strength).
//
// Returns:
// - A new blurred image with the same dimensions. A sigma below 0.1 returns a copy.
//
// @example
// blurred := Blur(img, 0.5)
func Blur(img *image.RGBA, sigma float64) *image.RGBA {
	if sigma > 10.0 {
		sigma = 10.0
	}
	if sigma < 0.1 {
		return ToRGBA(img)
	}

	// 3*sigma captures 99.7% of the Gaussian distribution.
	radius := int(math.Ceil(sigma * 3.0))
	kernel := GenerateGaussianKernel(radius, sigma)

	bounds := img.Bounds()
	intermediate := image.NewRGBA(bounds)
	BlurHorizontal(img, intermediate, kernel)

	dst := image.NewRGBA(bounds)
	BlurVertical(intermediate, dst, kernel)

	return dst
}

// GenerateGaussianKernel creates a 1D Gaussian kernel of size 2*radius+1
// normalized to sum to 1.0.
func GenerateGaussianKernel(radius int, sigma float64) []float64 {
	size := 2*radius + 1
	kernel := make([]float64, size)

	denom := 2.0 * sigma * sigma
	sum := 0.0
	for i := 0; i < size; i++ {
		x := float64(i - radius)
		kernel[i] = math.Exp(-(x * x) / denom)
		sum += kernel[i]
	}

	for i := range kernel {
		kernel[i] /= sum
	}

	return kernel
}

// BlurHorizontal applies the first pass of separable Gaussian filtering.
// Border pixels are clamped to the edge.
func BlurHorizontal(src *image.RGBA, dst *image.RGBA, kernel []float64) {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	radius := len(kernel) / 2

	Parallel(height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			for x := 0; x < width; x++ {
				var r, g, b, a float64
				for i, weight := range kernel {
					srcX := x + i - radius
					if srcX < 0 {
						srcX = 0
					} else if srcX >= width {
						srcX = width - 1
					}
					idx := src.PixOffset(bounds.Min.X+srcX, bounds.Min.Y+y)
					r += float64(src.Pix[idx+0]) * weight
					g += float64(src.Pix[idx+1]) * weight
					b += float64(src.Pix[idx+2]) * weight
					a += float64(src.Pix[idx+3]) * weight
				}
				dst.SetRGBA(bounds.Min.X+x, bounds.Min.Y+y, color.RGBA{
					R: uint8(Clamp(r, 0, 255) + 0.5),
					G: uint8(Clamp(g, 0, 255) + 0.5),
					B: uint8(Clamp(b, 0, 255) + 0.5),
					A: uint8(Clamp(a, 0, 255) + 0.5),
				})
			}
		}
	})
}

// BlurVertical applies the second pass of separable Gaussian filtering.
func BlurVertical(src *image.RGBA, dst *image.RGBA, kernel []float64) {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	radius := len(kernel) / 2

	Parallel(width, func(partStart, partEnd int) {
		for x := partStart; x < partEnd; x++ {
			for y := 0; y < height; y++ {
				var r, g, b, a float64
				for i, weight := range kernel {
					srcY := y + i - radius
					if srcY < 0 {
						srcY = 0
					} else if srcY >= height {
						srcY = height - 1
					}
					idx := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+srcY)
					r += float64(src.Pix[idx+0]) * weight
					g += float64(src.Pix[idx+1]) * weight
					b += float64(src.Pix[idx+2]) * weight
					a += float64(src.Pix[idx+3]) * weight
				}
				dstIdx := dst.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				dst.Pix[dstIdx+0] = uint8(Clamp(r, 0, 255) + 0.5)
				dst.Pix[dstIdx+1] = uint8(Clamp(g, 0, 255) + 0.5)
				dst.Pix[dstIdx+2] = uint8(Clamp(b, 0, 255) + 0.5)
				dst.Pix[dstIdx+3] = uint8(Clamp(a, 0, 255) + 0.5)
			}
		}
	})
}

// Clamp restricts a value to the range [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Parallel splits [0, dataSize) into one partition per CPU and runs fn on each
// partition concurrently. Small inputs run serially.
//
// @example
//
//	Parallel(height, func(start, end int) {
//	    for y := start; y < end; y++ {
//	        // Process row y
//	    }
//	})
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	numGoroutines := runtime.NumCPU()

	if dataSize < numGoroutines*2 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / numGoroutines

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		partStart := i * partSize
		partEnd := partStart + partSize

		// Last partition gets any remaining data.
		if i == numGoroutines-1 {
			partEnd = dataSize
		}

		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(partStart, partEnd)
	}

	wg.Wait()
}
