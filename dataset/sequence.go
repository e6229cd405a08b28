// Package dataset assembles augmented images and their encoded targets into
// fixed-size training batches.
package dataset

import (
	"context"
	"image"
	"math/rand"
	"runtime"
	"strings"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/mobiledetectnet/anchors"
	"github.com/nvr-ai/mobiledetectnet/augment"
	"github.com/nvr-ai/mobiledetectnet/encoder"
	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/nvr-ai/mobiledetectnet/labels"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrIndexOutOfRange is returned for a batch index outside [0, Len()).
var ErrIndexOutOfRange = errors.New("batch index out of range")

// CorruptPolicy decides what happens to a sample whose image or label cannot
// be read.
type CorruptPolicy string

const (
	// CorruptSkip logs the sample, leaves its batch slot zeroed and records it
	// in Batch.Skipped.
	CorruptSkip CorruptPolicy = "skip"
	// CorruptAbort fails the whole batch.
	CorruptAbort CorruptPolicy = "abort"
)

// ParseCorruptPolicy validates a policy name. The empty string selects CorruptSkip.
func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch p := CorruptPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CorruptSkip, nil
	case CorruptSkip, CorruptAbort:
		return p, nil
	}
	return "", errors.Errorf("invalid corrupt sample policy %q (want skip or abort)", s)
}

// ImageReader loads an image file resized to width x height and reports its
// original size.
type ImageReader interface {
	Read(path string, width, height int) (*image.RGBA, image.Point, error)
}

// Config configures a Sequence.
type Config struct {
	Root        string        `json:"root" yaml:"root"`
	Stage       augment.Stage `json:"stage" yaml:"stage"`
	BatchSize   int           `json:"batchSize" yaml:"batchSize"`
	InputWidth  int           `json:"inputWidth" yaml:"inputWidth"`
	InputHeight int           `json:"inputHeight" yaml:"inputHeight"`
	GridWidth   int           `json:"gridWidth" yaml:"gridWidth"`
	GridHeight  int           `json:"gridHeight" yaml:"gridHeight"`
	Seed        int64         `json:"seed" yaml:"seed"`
	// Workers bounds the goroutines loading the samples of one batch. 0 uses
	// one per CPU.
	Workers int           `json:"workers" yaml:"workers"`
	Corrupt CorruptPolicy `json:"corrupt" yaml:"corrupt"`
}

// DefaultConfig returns the 224x224 input, 7x7 grid configuration.
func DefaultConfig(root string) Config {
	return Config{
		Root:        root,
		Stage:       augment.StageTrain,
		BatchSize:   24,
		InputWidth:  224,
		InputHeight: 224,
		GridWidth:   7,
		GridHeight:  7,
		Corrupt:     CorruptSkip,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.GridWidth <= 0 || c.GridHeight <= 0 {
		return errors.Errorf("invalid grid %dx%d", c.GridWidth, c.GridHeight)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := augment.ParseStage(string(c.Stage)); err != nil {
		return err
	}
	if _, err := ParseCorruptPolicy(string(c.Corrupt)); err != nil {
		return err
	}
	return nil
}

// Option customizes a Sequence.
type Option func(*Sequence)

// WithLogger sets the logger.
func WithLogger(l logs.Log) Option {
	return func(s *Sequence) { s.log = l }
}

// WithReader replaces the default pure-Go image reader.
func WithReader(r ImageReader) Option {
	return func(s *Sequence) { s.reader = r }
}

// WithAugmenter replaces the stage pipeline.
func WithAugmenter(a augment.Augmenter) Option {
	return func(s *Sequence) { s.aug = a }
}

// WithAnchors replaces the default 9-anchor set. Its grid must match the config.
func WithAnchors(set *anchors.Set) Option {
	return func(s *Sequence) { s.anchors = set }
}

// WithColorMode sets the channel order of the image tensors. The default is BGR.
func WithColorMode(m images.ColorMode) Option {
	return func(s *Sequence) { s.mode = m }
}

// Batch is one batch of inputs and targets. All tensors are freshly
// allocated and owned by the caller.
type Batch struct {
	Index int
	// Images is (N, H, W, 3) in [-1, 1].
	Images *tensor.Dense
	// Coverage is (N, gridH, gridW, anchors).
	Coverage *tensor.Dense
	// BBoxes is (N, gridH, gridW, 4).
	BBoxes *tensor.Dense
	// Classes is (N, gridH, gridW, 1).
	Classes *tensor.Dense
	Samples []Sample
	// Skipped lists the slots left zeroed under CorruptSkip.
	Skipped []int
}

// Sequence produces batches for one dataset. The sample list and anchor set
// are immutable after construction, so Batch may be called concurrently.
type Sequence struct {
	cfg     Config
	samples []Sample
	order   []int
	epoch   int
	anchors *anchors.Set
	aug     augment.Augmenter
	reader  ImageReader
	mode    images.ColorMode
	log     logs.Log
}

// NewSequence enumerates the dataset under cfg.Root.
//
// Arguments:
//   - cfg: The sequence configuration.
//   - opts: Optional overrides.
//
// Returns:
//   - *Sequence: The epoch 0 sequence.
//   - error: A configuration error, or an error wrapping ErrDatasetLayout.
func NewSequence(cfg Config, opts ...Option) (*Sequence, error) {
	if cfg.Corrupt == "" {
		cfg.Corrupt = CorruptSkip
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "dataset config")
	}

	s := &Sequence{
		cfg:    cfg,
		reader: images.FileReader{},
		mode:   images.ColorModeBGR,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		l, err := logs.NewLog()
		if err != nil {
			return nil, errors.Wrap(err, "create logger")
		}
		s.log = l
	}

	if s.anchors == nil {
		set, err := anchors.Default(cfg.GridWidth, cfg.GridHeight)
		if err != nil {
			return nil, err
		}
		s.anchors = set
	} else if w, h := s.anchors.Grid(); w != cfg.GridWidth || h != cfg.GridHeight {
		return nil, errors.Errorf("anchor grid %dx%d does not match config grid %dx%d", w, h, cfg.GridWidth, cfg.GridHeight)
	}

	if s.aug == nil {
		aug, err := augment.ForStage(cfg.Stage)
		if err != nil {
			return nil, err
		}
		s.aug = aug
	}

	samples, err := Enumerate(cfg.Root)
	if err != nil {
		return nil, err
	}
	s.samples = samples
	s.order = identity(len(samples))

	s.log.Infof("Dataset %s: %d samples, %d batches of %d (%s)", cfg.Root, len(samples), s.Len(), cfg.BatchSize, cfg.Stage)
	if rem := len(samples) % cfg.BatchSize; rem != 0 {
		s.log.Warnf("Dataset %s: %d samples do not fill a batch and are dropped every epoch", cfg.Root, rem)
	}
	return s, nil
}

// Len returns the number of full batches. Remainder samples are dropped.
func (s *Sequence) Len() int {
	return len(s.samples) / s.cfg.BatchSize
}

// Samples returns a copy of the samples in enumeration order.
func (s *Sequence) Samples() []Sample {
	return append([]Sample(nil), s.samples...)
}

// Anchors returns the shared anchor set.
func (s *Sequence) Anchors() *anchors.Set { return s.anchors }

// Config returns the sequence configuration.
func (s *Sequence) Config() Config { return s.cfg }

// EpochNumber returns the epoch this view serves.
func (s *Sequence) EpochNumber() int { return s.epoch }

// Epoch returns a view of the sequence with the sample order shuffled for
// epoch n. Epoch 0 keeps enumeration order. The receiver is not modified.
func (s *Sequence) Epoch(n int) *Sequence {
	view := *s
	view.epoch = n
	if n == 0 {
		view.order = identity(len(s.samples))
	} else {
		view.order = rand.New(rand.NewSource(mixSeed(s.cfg.Seed, n, -1))).Perm(len(s.samples))
	}
	return &view
}

// Batch builds batch index.
//
// Samples are loaded by up to Config.Workers goroutines. Each sample gets its
// own random source derived from the seed, the epoch and the sample, so a
// batch is reproducible regardless of scheduling.
//
// Arguments:
//   - ctx: Cancels loading between samples.
//   - index: The batch index in [0, Len()).
//
// Returns:
//   - *Batch: The batch.
//   - error: ErrIndexOutOfRange, a context error, or a sample error under
//     CorruptAbort.
func (s *Sequence) Batch(ctx context.Context, index int) (*Batch, error) {
	if index < 0 || index >= s.Len() {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, len %d", index, s.Len())
	}

	n := s.cfg.BatchSize
	w, h := s.cfg.InputWidth, s.cfg.InputHeight
	gw, gh := s.anchors.Grid()

	b := &Batch{
		Index:    index,
		Images:   tensor.New(tensor.WithShape(n, h, w, 3), tensor.Of(tensor.Float32)),
		Coverage: tensor.New(tensor.WithShape(n, gh, gw, s.anchors.PerCell()), tensor.Of(tensor.Float32)),
		BBoxes:   tensor.New(tensor.WithShape(n, gh, gw, 4), tensor.Of(tensor.Float32)),
		Classes:  tensor.New(tensor.WithShape(n, gh, gw, 1), tensor.Of(tensor.Float32)),
		Samples:  make([]Sample, n),
	}
	for slot := range b.Samples {
		b.Samples[slot] = s.samples[s.order[index*n+slot]]
	}

	errs := make([]error, n)
	slots := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < s.workers(n); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range slots {
				if err := ctx.Err(); err != nil {
					errs[slot] = err
					continue
				}
				errs[slot] = s.load(b, slot, s.order[index*n+slot])
			}
		}()
	}
	for slot := 0; slot < n; slot++ {
		slots <- slot
	}
	close(slots)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for slot, err := range errs {
		if err == nil {
			continue
		}
		if s.cfg.Corrupt == CorruptAbort {
			return nil, errors.Wrapf(err, "batch %d slot %d", index, slot)
		}
		s.log.Warnf("Skipping sample %s: %v", b.Samples[slot].ImagePath, err)
		b.Skipped = append(b.Skipped, slot)
	}
	return b, nil
}

// load reads, augments and encodes one sample into slot. Nothing is written
// to the batch unless every step succeeds.
func (s *Sequence) load(b *Batch, slot, sampleIdx int) error {
	sample := s.samples[sampleIdx]
	w, h := s.cfg.InputWidth, s.cfg.InputHeight

	img, size, err := s.reader.Read(sample.ImagePath, w, h)
	if err != nil {
		return err
	}
	boxes, err := labels.Load(sample.LabelPath, labels.ScaleFor(size.X, size.Y, w, h))
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(mixSeed(s.cfg.Seed, s.epoch, sampleIdx)))
	img, boxes = s.aug.Augment(img, boxes, rng)
	if got := img.Bounds().Size(); got != image.Pt(w, h) {
		return errors.Errorf("augmented image is %v, want %dx%d", got, w, h)
	}
	boxes = augment.Finalize(boxes, w, h)

	gw, gh := s.anchors.Grid()
	targets := encoder.Encode(encoder.ToGrid(boxes, w, h, gw, gh), s.anchors)

	px := make([]float32, w*h*3)
	if err := images.PackHWC(px, img, s.mode); err != nil {
		return err
	}
	if err := encoder.EncodeInto(b.Coverage, b.BBoxes, b.Classes, slot, targets); err != nil {
		return err
	}
	copy(b.Images.Data().([]float32)[slot*len(px):], px)
	return nil
}

func (s *Sequence) workers(n int) int {
	w := s.cfg.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > n {
		w = n
	}
	return w
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// mixSeed derives an independent seed from (seed, epoch, sample) with the
// splitmix64 finalizer.
func mixSeed(seed int64, epoch, sample int) int64 {
	h := uint64(seed)
	for _, v := range []uint64{uint64(epoch), uint64(sample)} {
		h ^= v
		h += 0x9e3779b97f4a7c15
		h = (h ^ (h >> 30)) * 0xbf58476d1ce4e5b9
		h = (h ^ (h >> 27)) * 0x94d049bb133111eb
		h ^= h >> 31
	}
	return int64(h)
}
