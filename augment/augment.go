// Package augment implements the stage-dependent image augmentation applied
// to training samples. Every transform moves the image and its boxes with the
// same random draw.
package augment

import (
	"image"
	"math/rand"
	"strings"

	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/pkg/errors"
)

// ErrInvalidStage is returned for an unknown stage name.
var ErrInvalidStage = errors.New("invalid stage")

// Stage selects the augmentation configuration.
type Stage string

const (
	StageTrain Stage = "train"
	StageVal   Stage = "val"
	StageTest  Stage = "test"
)

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(strings.TrimSpace(s))); st {
	case StageTrain, StageVal, StageTest:
		return st, nil
	}
	return "", errors.Wrapf(ErrInvalidStage, "%q (want train, val or test)", s)
}

// Augmenter transforms an image and its boxes using draws from rng.
// Implementations must not modify img in place.
type Augmenter interface {
	Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box)
}

// Func adapts a function to Augmenter.
type Func func(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box)

// Augment calls f.
func (f Func) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	return f(img, boxes, rng)
}

// Identity returns its input unchanged.
var Identity = Func(func(img *image.RGBA, boxes []images.Box, _ *rand.Rand) (*image.RGBA, []images.Box) {
	return img, boxes
})

// Sequential applies every child in order.
type Sequential []Augmenter

// Augment runs the pipeline.
func (s Sequential) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	for _, a := range s {
		img, boxes = a.Augment(img, boxes, rng)
	}
	return img, boxes
}

// SomeOf applies between Min and Max randomly chosen children, in list order.
type SomeOf struct {
	Min, Max int
	Children []Augmenter
}

// Augment picks the children for this draw and runs them.
func (s SomeOf) Augment(img *image.RGBA, boxes []images.Box, rng *rand.Rand) (*image.RGBA, []images.Box) {
	hi := s.Max
	if hi > len(s.Children) {
		hi = len(s.Children)
	}
	n := s.Min
	if hi > s.Min {
		n += rng.Intn(hi - s.Min + 1)
	}

	chosen := make([]bool, len(s.Children))
	for _, i := range rng.Perm(len(s.Children))[:n] {
		chosen[i] = true
	}
	for i, a := range s.Children {
		if chosen[i] {
			img, boxes = a.Augment(img, boxes, rng)
		}
	}
	return img, boxes
}

// ForStage returns the augmentation pipeline of a stage.
//
//	train: flip, crop/pad, translate, then 0-3 of hue/saturation, scale, blur, noise
//	val:   crop/pad, translate
//	test:  identity
func ForStage(stage Stage) (Augmenter, error) {
	switch stage {
	case StageTrain:
		return Sequential{
			Fliplr{P: 0.5},
			CropAndPad{MaxPx: 112},
			Translate{Fraction: 0.4},
			SomeOf{Min: 0, Max: 3, Children: []Augmenter{
				HueSaturation{Max: 10},
				Scale{Min: 0.9, Max: 1.1},
				GaussianBlur{MaxSigma: 1.0},
				GaussianNoise{Sigma: 0.05 * 255},
			}},
		}, nil
	case StageVal:
		return Sequential{
			CropAndPad{MaxPx: 112},
			Translate{Fraction: 0.4},
		}, nil
	case StageTest:
		return Identity, nil
	}
	return nil, errors.Wrapf(ErrInvalidStage, "%q", stage)
}

// Finalize drops boxes lying fully outside a width x height image, clips the
// rest to the image and drops any that end up with zero area.
func Finalize(boxes []images.Box, width, height int) []images.Box {
	w, h := float32(width), float32(height)
	out := make([]images.Box, 0, len(boxes))
	for _, b := range boxes {
		if b.IsOutOf(w, h) {
			continue
		}
		b = b.Clip(w, h)
		if b.Area() == 0 {
			continue
		}
		out = append(out, b)
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
