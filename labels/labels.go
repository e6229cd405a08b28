// Package labels reads KITTI-style annotation files.
//
// Each non-empty line describes one object:
//
//	class truncated occluded alpha x1 y1 x2 y2 [ignored...]
//
// with coordinates in the pixel space of the original image.
package labels

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/pkg/errors"
)

// ErrCorruptAnnotation is wrapped by every parse failure.
var ErrCorruptAnnotation = errors.New("corrupt annotation")

const minFields = 8

// Scale holds the factors applied to label coordinates when the source image
// is resized.
type Scale struct {
	Y float32 `json:"y" yaml:"y"`
	X float32 `json:"x" yaml:"x"`
}

// Identity leaves coordinates unchanged.
var Identity = Scale{Y: 1, X: 1}

// ScaleFor returns the scale mapping an origW x origH image onto newW x newH.
func ScaleFor(origW, origH, newW, newH int) Scale {
	return Scale{
		Y: float32(newH) / float32(origH),
		X: float32(newW) / float32(origW),
	}
}

// Load reads and rescales the annotation file at path.
//
// Arguments:
//   - path: Path to the label file.
//   - scale: Resize factors to apply to the coordinates.
//
// Returns:
//   - []images.Box: One box per object, labelled with its class.
//   - error: A read error, or an error wrapping ErrCorruptAnnotation.
func Load(path string, scale Scale) ([]images.Box, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open label file %s", path)
	}
	defer f.Close()

	boxes, err := Parse(f, scale)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return boxes, nil
}

// Parse reads annotations from r. A malformed line fails the whole file; no
// partial result is returned.
func Parse(r io.Reader, scale Scale) ([]images.Box, error) {
	var boxes []images.Box

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		box, err := parseLine(text)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptAnnotation, "line %d: %v", line, err)
		}
		boxes = append(boxes, box.Scale(scale.X, scale.Y))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}

	return boxes, nil
}

func parseLine(text string) (images.Box, error) {
	fields := strings.Fields(text)
	if len(fields) < minFields {
		return images.Box{}, errors.Errorf("expected at least %d fields, got %d", minFields, len(fields))
	}

	// truncated, occluded, alpha are not used but must be numeric.
	for i := 1; i < 4; i++ {
		if _, err := strconv.ParseFloat(fields[i], 32); err != nil {
			return images.Box{}, errors.Errorf("field %d: %q is not a number", i, fields[i])
		}
	}

	var c [4]float32
	for i := range c {
		v, err := strconv.ParseFloat(fields[4+i], 32)
		if err != nil {
			return images.Box{}, errors.Errorf("field %d: %q is not a number", 4+i, fields[4+i])
		}
		c[i] = float32(v)
	}

	return images.Box{X1: c[0], Y1: c[1], X2: c[2], Y2: c[3], Label: fields[0]}, nil
}
