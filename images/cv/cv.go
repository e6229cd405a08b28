// Package cv wraps the OpenCV calls used around the detector: reading and
// resizing images the way the network was trained, merging overlapping
// detections, and drawing them.
package cv

import (
	"image"
	"image/color"

	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Reader reads images with OpenCV. It produces the same pixels the network
// saw during training (imread + bilinear resize).
type Reader struct {
	ReadFlag gocv.IMReadFlag
}

// NewReader returns a color Reader.
func NewReader() Reader {
	return Reader{ReadFlag: gocv.IMReadColor}
}

// Read loads the image at path and resizes it to width x height.
//
// Arguments:
//   - path: The image file path.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *image.RGBA: The resized image.
//   - image.Point: The original dimensions.
//   - error: An error if OpenCV cannot read the file.
func (r Reader) Read(path string, width, height int) (*image.RGBA, image.Point, error) {
	mat := gocv.IMRead(path, r.ReadFlag)
	defer mat.Close()
	if mat.Empty() {
		return nil, image.Point{}, errors.Errorf("opencv could not read image %s", path)
	}
	size := image.Pt(mat.Cols(), mat.Rows())

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	img, err := resized.ToImage()
	if err != nil {
		return nil, image.Point{}, errors.Wrapf(err, "convert image %s", path)
	}
	return images.ToRGBA(img), size, nil
}

// GroupRectangles clusters similar rectangles and returns one averaged
// rectangle per cluster with more than groupThreshold members.
func GroupRectangles(rects []image.Rectangle, groupThreshold int, eps float64) []image.Rectangle {
	if len(rects) == 0 {
		return nil
	}
	return gocv.GroupRectangles(rects, groupThreshold, eps)
}

// DrawImage draws rects on img and writes it to dst.
func DrawImage(img image.Image, dst string, rects []image.Rectangle) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return errors.Wrap(err, "convert image")
	}
	defer mat.Close()
	return drawAndWrite(&mat, dst, rects)
}

// WriteGray writes a single-channel image, such as a class heatmap, to dst.
func WriteGray(img *image.Gray, dst string) error {
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return errors.Wrap(err, "convert heatmap")
	}
	defer mat.Close()
	if !gocv.IMWrite(dst, mat) {
		return errors.Errorf("failed to write %s", dst)
	}
	return nil
}

// Draw reads the image at src, resizes it to width x height, draws rects on it
// and writes the result to dst.
func Draw(src, dst string, width, height int, rects []image.Rectangle) error {
	img := gocv.IMRead(src, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return errors.Errorf("opencv could not read image %s", src)
	}

	if width > 0 && height > 0 {
		gocv.Resize(img, &img, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	}

	return drawAndWrite(&img, dst, rects)
}

func drawAndWrite(mat *gocv.Mat, dst string, rects []image.Rectangle) error {
	for _, r := range rects {
		gocv.Rectangle(mat, r, color.RGBA{0, 255, 0, 0}, 3)
	}
	if !gocv.IMWrite(dst, *mat) {
		return errors.Errorf("failed to write %s", dst)
	}
	return nil
}
