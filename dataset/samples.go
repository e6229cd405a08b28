package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nvr-ai/mobiledetectnet/util"
	"github.com/pkg/errors"
)

// ErrDatasetLayout is returned when a dataset root cannot be enumerated.
var ErrDatasetLayout = errors.New("invalid dataset layout")

const (
	imagesDir = "images"
	labelsDir = "labels"
	labelExt  = ".txt"
)

// Sample is one image and its annotation file.
type Sample struct {
	// ImagePath is the path to the image file.
	ImagePath string
	// LabelPath is the path to the KITTI label file.
	LabelPath string
}

// Stem returns the file name of path up to its first '.'.
func Stem(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// Enumerate lists the samples of a dataset laid out as
//
//	<root>/images/**/<stem>.<jpg|jpeg|png|bmp>
//	<root>/labels/<stem>.txt
//
// Image extensions match case-insensitively. Every image must have a label.
//
// Arguments:
//   - root: The dataset root directory.
//
// Returns:
//   - []Sample: The samples sorted by image path.
//   - error: An error wrapping ErrDatasetLayout if a directory or label is
//     missing or no images are found.
func Enumerate(root string) ([]Sample, error) {
	imgRoot := filepath.Join(root, imagesDir)
	lblRoot := filepath.Join(root, labelsDir)
	for _, dir := range []string{imgRoot, lblRoot} {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, errors.Wrapf(ErrDatasetLayout, "%s: %v", dir, err)
		}
		if !info.IsDir() {
			return nil, errors.Wrapf(ErrDatasetLayout, "%s is not a directory", dir)
		}
	}

	var samples []Sample
	err := filepath.WalkDir(imgRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !util.IsImage(path) {
			return nil
		}

		label := filepath.Join(lblRoot, Stem(path)+labelExt)
		if _, err := os.Stat(label); err != nil {
			return errors.Wrapf(ErrDatasetLayout, "no label for %s: %v", path, err)
		}
		samples = append(samples, Sample{ImagePath: path, LabelPath: label})
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDatasetLayout) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrDatasetLayout, "walk %s: %v", imgRoot, err)
	}
	if len(samples) == 0 {
		return nil, errors.Wrapf(ErrDatasetLayout, "no images in %s", imgRoot)
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].ImagePath < samples[j].ImagePath
	})
	return samples, nil
}
