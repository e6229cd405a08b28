package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/mobiledetectnet/augment"
	"github.com/nvr-ai/mobiledetectnet/config"
	"github.com/nvr-ai/mobiledetectnet/dataset"
	"github.com/nvr-ai/mobiledetectnet/images/cv"
	"github.com/nvr-ai/mobiledetectnet/profiler"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("encode", "Build every training batch of a KITTI-style dataset and report target statistics")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file"})
	root := parser.String("r", "root", &argparse.Options{Help: "Dataset root containing images/ and labels/"})
	stage := parser.String("s", "stage", &argparse.Options{Help: "Augmentation stage: train, val or test"})
	batchSize := parser.Int("b", "batch", &argparse.Options{Help: "Batch size", Default: 0})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Concurrent batches", Default: 2})
	epoch := parser.Int("e", "epoch", &argparse.Options{Help: "Epoch to shuffle for (0 keeps enumeration order)", Default: 0})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Augmentation and shuffle seed", Default: 0})
	corrupt := parser.String("", "corrupt", &argparse.Options{Help: "Corrupt sample policy: skip or abort"})
	opencv := parser.Flag("", "opencv", &argparse.Options{Help: "Read images with OpenCV instead of the pure Go decoders"})
	anchorsOut := parser.String("", "anchors", &argparse.Options{Help: "Write the anchor boxes as YAML to this file"})
	reportEvery := parser.Int("", "report", &argparse.Options{Help: "Seconds between progress reports (0 disables)", Default: 10})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		check(err)
	}
	ds := cfg.Dataset
	if *root != "" {
		ds.Root = *root
	}
	if *stage != "" {
		ds.Stage = augment.Stage(*stage)
	}
	if *batchSize > 0 {
		ds.BatchSize = *batchSize
	}
	if *seed != 0 {
		ds.Seed = int64(*seed)
	}
	if *corrupt != "" {
		ds.Corrupt = dataset.CorruptPolicy(*corrupt)
	}
	if ds.Root == "" {
		fmt.Print(parser.Usage(errors.New("a dataset root is required (-r or dataset.root in the config)")))
		os.Exit(1)
	}

	opts := []dataset.Option{dataset.WithLogger(logger)}
	if *opencv {
		opts = append(opts, dataset.WithReader(cv.NewReader()))
	}
	seq, err := dataset.NewSequence(ds, opts...)
	check(err)
	seq = seq.Epoch(*epoch)

	if *anchorsOut != "" {
		check(writeAnchors(*anchorsOut, seq))
		logger.Infof("Wrote %d anchors to %s", seq.Anchors().Len(), *anchorsOut)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
		ReportInterval: time.Duration(*reportEvery) * time.Second,
		Logger:         logger,
	})
	prof.Start()

	start := time.Now()
	st, err := run(ctx, seq, *workers, prof, logger)
	prof.Stop()
	check(err)
	st.report(logger, seq, time.Since(start))
}

// stats accumulates per-image target counts.
type stats struct {
	batches  int
	skipped  int
	cells    []float64
	matches  []float64
	coverage float64
}

func run(ctx context.Context, seq *dataset.Sequence, workers int, prof *profiler.RuntimeProfiler, log logs.Log) (*stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := &stats{}
	last := time.Now()
	for r := range seq.Stream(ctx, workers) {
		if r.Err != nil {
			return nil, errors.Wrapf(r.Err, "batch %d", r.Index)
		}
		prof.RecordOperation("batch", time.Since(last))
		last = time.Now()

		b := r.Batch
		st.batches++
		st.skipped += len(b.Skipped)
		prof.RecordMetric("skipped per batch", float64(len(b.Skipped)))

		n := b.Classes.Shape()[0]
		cls := b.Classes.Data().([]float32)
		cov := b.Coverage.Data().([]float32)
		perCls, perCov := len(cls)/n, len(cov)/n
		for i := 0; i < n; i++ {
			st.cells = append(st.cells, sum32(cls[i*perCls:(i+1)*perCls]))
			st.matches = append(st.matches, sum32(cov[i*perCov:(i+1)*perCov]))
			prof.RecordMetric("positive cells", st.cells[len(st.cells)-1])
		}
		log.Debugf("Batch %d: %d images, %d skipped", r.Index, n, len(b.Skipped))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.coverage = floats.Sum(st.matches)
	return st, nil
}

func (st *stats) report(log logs.Log, seq *dataset.Sequence, elapsed time.Duration) {
	if len(st.cells) == 0 {
		log.Warnf("No batches produced: %d samples, batch size %d", len(seq.Samples()), seq.Config().BatchSize)
		return
	}
	cellMean, cellStd := stat.MeanStdDev(st.cells, nil)
	matchMean, matchStd := stat.MeanStdDev(st.matches, nil)
	w, h := seq.Anchors().Grid()

	log.Infof("Encoded %d batches (%d images, %d skipped) in %v", st.batches, len(st.cells), st.skipped, elapsed)
	log.Infof("Positive cells per image: %.2f ± %.2f of %d", cellMean, cellStd, w*h)
	log.Infof("Anchor matches per image: %.2f ± %.2f of %d (total %.0f)", matchMean, matchStd, seq.Anchors().Len(), st.coverage)
	if elapsed > 0 {
		log.Infof("Throughput: %.1f images/s", float64(len(st.cells))/elapsed.Seconds())
	}
}

func writeAnchors(path string, seq *dataset.Sequence) error {
	w, h := seq.Anchors().Grid()
	doc := struct {
		GridWidth  int          `yaml:"gridWidth"`
		GridHeight int          `yaml:"gridHeight"`
		PerCell    int          `yaml:"perCell"`
		Boxes      [][4]float32 `yaml:"boxes"`
	}{GridWidth: w, GridHeight: h, PerCell: seq.Anchors().PerCell()}
	for _, b := range seq.Anchors().Boxes() {
		doc.Boxes = append(doc.Boxes, [4]float32{b.X1, b.Y1, b.X2, b.Y2})
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal anchors")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write anchors")
}

func sum32(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x)
	}
	return s
}
