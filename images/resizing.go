package images

import (
	"image"
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"os"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp" // register BMP decoding
)

// Resize scales img to exactly width x height with bilinear interpolation,
// ignoring the aspect ratio.
//
// Arguments:
//   - img: The source image.
//   - width: The width to resize the image to.
//   - height: The height to resize the image to.
//
// Returns:
//   - *image.RGBA: The resized image with bounds at the origin.
func Resize(img image.Image, width, height int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return ToRGBA(img)
	}
	return ToRGBA(resize.Resize(uint(width), uint(height), img, resize.Bilinear))
}

// FileReader decodes JPEG, PNG and BMP images and resizes them with
// nfnt/resize. It needs no native libraries.
type FileReader struct{}

// Read decodes the image at path and resizes it to width x height.
//
// Arguments:
//   - path: The image file path.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *image.RGBA: The resized image.
//   - image.Point: The original image dimensions before resizing.
//   - error: An error if the file cannot be opened or decoded.
func (FileReader) Read(path string, width, height int) (*image.RGBA, image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, image.Point{}, errors.Wrapf(err, "open image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, image.Point{}, errors.Wrapf(err, "decode image %s", path)
	}

	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil, image.Point{}, errors.Errorf("image %s is empty", path)
	}

	return Resize(img, width, height), size, nil
}
