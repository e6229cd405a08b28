package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.JPG", "notes.txt", "sub/c.jpeg", "sub/d.bmp", "sub/e.gif"} {
		touch(t, filepath.Join(dir, name))
	}

	paths, err := ImageFiles(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.JPG"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "sub", "c.jpeg"),
		filepath.Join(dir, "sub", "d.bmp"),
	}, paths)

	limited, err := ImageFiles(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, paths[:2], limited)
}

func TestImageFiles_Errors(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "readme.md"))

	_, err := ImageFiles(dir, 0)
	assert.ErrorContains(t, err, "no images")

	_, err = ImageFiles(filepath.Join(dir, "missing"), 0)
	assert.Error(t, err)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("/x/frame-001.PNG"))
	assert.False(t, IsImage("/x/frame-001.png.txt"))
	assert.False(t, IsImage("labels"))
}
