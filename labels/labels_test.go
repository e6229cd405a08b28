package labels

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	src := `Car 0.00 0 -1.57 599.41 156.40 629.75 189.25 2.85 2.63 12.34 0.47 1.49 69.44 -1.56

Pedestrian 0.00 0 -0.20 712.40 143.00 810.73 307.92 1.89 0.48 1.20 1.84 1.47 8.41 0.01
`
	boxes, err := Parse(strings.NewReader(src), Identity)
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	assert.Equal(t, "Car", boxes[0].Label)
	assert.InDelta(t, 599.41, boxes[0].X1, 1e-3)
	assert.InDelta(t, 156.40, boxes[0].Y1, 1e-3)
	assert.InDelta(t, 629.75, boxes[0].X2, 1e-3)
	assert.InDelta(t, 189.25, boxes[0].Y2, 1e-3)
	assert.Equal(t, "Pedestrian", boxes[1].Label)
}

func TestParse_Rescale(t *testing.T) {
	scale := ScaleFor(640, 480, 224, 224)
	boxes, err := Parse(strings.NewReader("car 0 0 0 100 100 200 200\n"), scale)
	require.NoError(t, err)
	require.Len(t, boxes, 1)

	b := boxes[0]
	assert.InDelta(t, 100.0*224.0/640.0, b.X1, 1e-4)
	assert.InDelta(t, 100.0*224.0/480.0, b.Y1, 1e-4)
	assert.InDelta(t, 200.0*224.0/640.0, b.X2, 1e-4)
	assert.InDelta(t, 200.0*224.0/480.0, b.Y2, 1e-4)
	assert.InDelta(t, 35.0, b.X1, 1e-4)
	assert.InDelta(t, 46.6667, b.Y1, 1e-3)
}

func TestParse_Empty(t *testing.T) {
	for _, src := range []string{"", "\n\n", "   \n"} {
		boxes, err := Parse(strings.NewReader(src), Identity)
		require.NoError(t, err)
		assert.Empty(t, boxes)
	}
}

func TestParse_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"too few fields", "car 0 0 0 1 2 3\n"},
		{"bad coordinate", "car 0 0 0 1 2 x 4\n"},
		{"bad truncated", "car zero 0 0 1 2 3 4\n"},
		{"second line bad", "car 0 0 0 1 2 3 4\ncar 0 0 0 1 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boxes, err := Parse(strings.NewReader(tt.src), Identity)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptAnnotation))
			assert.Nil(t, boxes)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "000001.txt")
	require.NoError(t, os.WriteFile(good, []byte("car 0 0 0 10 20 30 40\n"), 0o644))

	boxes, err := Load(good, Scale{X: 0.5, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, []images.Box{{X1: 5, Y1: 40, X2: 15, Y2: 80, Label: "car"}}, boxes)

	bad := filepath.Join(dir, "000002.txt")
	require.NoError(t, os.WriteFile(bad, []byte("car 0 0 0 10 20\n"), 0o644))
	_, err = Load(bad, Identity)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptAnnotation))
	assert.Contains(t, err.Error(), bad)
	assert.Contains(t, err.Error(), "line 1")

	_, err = Load(filepath.Join(dir, "missing.txt"), Identity)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrCorruptAnnotation))
}
