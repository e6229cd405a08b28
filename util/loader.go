package util

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// imageExts are the file extensions treated as images.
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// IsImage reports whether path has an image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// ImageFiles lists the image files under dir, recursively, in lexical path
// order.
//
// Arguments:
//   - dir: Directory to search.
//   - limit: Maximum number of files to return, or 0 for all.
//
// Returns:
//   - []string: The image paths.
//   - error: If dir cannot be walked or holds no images.
func ImageFiles(dir string, limit int) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImage(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list images in %s", dir)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no images in %s", dir)
	}

	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}
