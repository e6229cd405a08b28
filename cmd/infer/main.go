package main

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/mobiledetectnet/augment"
	"github.com/nvr-ai/mobiledetectnet/benchmark"
	"github.com/nvr-ai/mobiledetectnet/config"
	"github.com/nvr-ai/mobiledetectnet/dataset"
	"github.com/nvr-ai/mobiledetectnet/decode"
	"github.com/nvr-ai/mobiledetectnet/images"
	"github.com/nvr-ai/mobiledetectnet/images/cv"
	"github.com/nvr-ai/mobiledetectnet/inference"
	"github.com/nvr-ai/mobiledetectnet/util"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("infer", "Benchmark MobileDetectNet inference and optionally draw its detections")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file"})
	precision := parser.String("T", "type", &argparse.Options{Help: "Inference type: baseline (K), frozen (TF), fp32, fp16 or int8"})
	batchSize := parser.Int("B", "batch", &argparse.Options{Help: "Engine batch size for fixed-batch backends", Default: 0})
	weights := parser.String("W", "weights", &argparse.Options{Help: "Trained weights for the baseline backend"})
	model := parser.String("M", "model", &argparse.Options{Help: "Exported ONNX model for the frozen and TensorRT backends"})
	library := parser.String("L", "library", &argparse.Options{Help: "ONNX Runtime shared library"})
	calibration := parser.String("", "calibration", &argparse.Options{Help: "TensorRT int8 calibration table"})
	testPath := parser.String("I", "images", &argparse.Options{Help: "Test images directory; random inputs are used when absent"})
	stage := parser.String("s", "stage", &argparse.Options{Help: "Test images only: augmentation stage"})
	limit := parser.Int("l", "limit", &argparse.Options{Help: "Maximum number of images to run on", Default: 0})
	confidence := parser.Float("C", "confidence", &argparse.Options{Help: "Test images only: minimum class score to draw a box", Default: -1.0})
	merge := parser.Flag("m", "merge", &argparse.Options{Help: "Test images only: merge detected regions"})
	output := parser.String("o", "output", &argparse.Options{Help: "Test images only: directory for annotated images"})
	repeat := parser.Int("r", "repeat", &argparse.Options{Help: "Extra timed runs for latency statistics", Default: 0})
	opencv := parser.Flag("", "opencv", &argparse.Options{Help: "Read test images with OpenCV"})
	compare := parser.String("", "compare", &argparse.Options{Help: "Comma-separated precisions to time and compare against the baseline"})
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
	ic := &cfg.Inference
	if *precision != "" {
		ic.Engine.Precision, err = inference.ParsePrecision(*precision)
		check(err)
	}
	setString(&ic.Engine.WeightsPath, *weights)
	setString(&ic.Engine.ModelPath, *model)
	setString(&ic.Engine.LibraryPath, *library)
	setString(&ic.Engine.CalibrationTable, *calibration)
	setString(&ic.TestPath, *testPath)
	setString(&ic.OutputDir, *output)
	if *stage != "" {
		ic.Stage = augment.Stage(*stage)
	}
	if *batchSize > 0 {
		ic.Engine.BatchSize = *batchSize
	}
	if *limit > 0 {
		ic.Limit = *limit
	}
	if *confidence >= 0 {
		ic.Confidence = float32(*confidence)
	}
	if *merge {
		ic.Merge = true
	}
	if *repeat > 0 {
		ic.Repeat = *repeat
	}
	check(ic.Validate())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var reader dataset.ImageReader = images.FileReader{}
	if *opencv {
		reader = cv.NewReader()
	}
	inputs, err := loadInputs(*ic, reader, logger)
	check(err)

	if *compare != "" {
		check(runComparison(ctx, *ic, *compare, inputs.batch, logger))
		return
	}

	engine, err := buildEngine(ic.Engine, logger)
	check(err)
	defer engine.Close()

	coldBatch := engine.BatchSize()
	if coldBatch == 0 {
		coldBatch = max(1, ic.Engine.BatchSize)
	}
	cold := randomBatch(rand.New(rand.NewSource(ic.Seed+1)), coldBatch, ic.Engine.InputHeight, ic.Engine.InputWidth)

	out, timing, err := inference.Benchmark(ctx, engine, cold, inputs.batch)
	check(err)
	logger.Infof("%s: %d images in %v, %.1f FPS", engine.Precision(), timing.Batch, timing.Duration, timing.FPS)

	if ic.Repeat > 0 {
		s, err := inference.Repeat(ctx, engine, inputs.batch, ic.Repeat)
		check(err)
		logger.Infof("%s over %d runs: mean %v ± %v (min %v, max %v), %.1f FPS",
			engine.Precision(), s.Runs, s.Mean, s.StdDev, s.Min, s.Max, s.FPS)
	}

	if len(inputs.paths) == 0 {
		return
	}
	check(report(*ic, out, inputs, logger))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func buildEngine(cfg inference.EngineConfig, log logs.Log) (inference.Engine, error) {
	opts := []inference.Option{inference.WithLogger(log)}
	if cfg.Precision == inference.Baseline && cfg.WeightsPath == "" && cfg.ModelPath != "" {
		// Run the exported model itself so every precision shares one artifact.
		cfg.Model = inference.ONNXModelName
	}
	if cfg.Precision == inference.Baseline && cfg.WeightsPath == "" && cfg.Model != inference.ONNXModelName {
		if cfg.Model != inference.ProbeModelName {
			return nil, errors.Errorf("model %s needs a weights path", cfg.Model)
		}
		log.Warnf("No weights given: running the %s model with unit scale", cfg.Model)
		opts = append(opts, inference.WithWeights(inference.ProbeWeights(1)))
	}
	return inference.NewEngine(cfg, opts...)
}

// runComparison times every listed precision on batch and reports its
// agreement with the baseline.
func runComparison(ctx context.Context, ic config.InferenceConfig, list string, batch *tensor.Dense, log logs.Log) error {
	var precisions []inference.Precision
	for _, name := range strings.Split(list, ",") {
		p, err := inference.ParsePrecision(name)
		if err != nil {
			return err
		}
		precisions = append(precisions, p)
	}

	suite, err := benchmark.NewSuite(benchmark.NewSuiteArgs{
		Factory: func(p inference.Precision, batchSize int) (inference.Engine, error) {
			cfg := ic.Engine
			cfg.Precision = p
			if batchSize > 0 {
				cfg.BatchSize = batchSize
			}
			return buildEngine(cfg, log)
		},
		Input:      batch,
		Confidence: ic.Confidence,
		OutputPath: ic.OutputDir,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	for _, s := range benchmark.PrecisionScenarios(precisions, ic.Engine.BatchSize, max(1, ic.Repeat)).Scenarios {
		suite.AddScenario(s)
	}
	return suite.RunAllScenarios(ctx)
}

// inputs is the benchmark batch and, for test images, the augmented images it
// was packed from.
type inputs struct {
	batch  *tensor.Dense
	paths  []string
	images []*image.RGBA
}

func loadInputs(ic config.InferenceConfig, reader dataset.ImageReader, log logs.Log) (*inputs, error) {
	w, h := ic.Engine.InputWidth, ic.Engine.InputHeight
	if ic.TestPath == "" {
		rng := rand.New(rand.NewSource(ic.Seed))
		return &inputs{batch: randomBatch(rng, ic.Limit, h, w)}, nil
	}

	paths, err := util.ImageFiles(ic.TestPath, ic.Limit)
	if err != nil {
		return nil, err
	}
	aug, err := augment.ForStage(ic.Stage)
	if err != nil {
		return nil, err
	}

	in := &inputs{
		batch: tensor.New(tensor.WithShape(len(paths), h, w, 3), tensor.Of(tensor.Float32)),
		paths: paths,
	}
	data := in.batch.Data().([]float32)
	slot := h * w * 3
	for i, p := range paths {
		img, _, err := reader.Read(p, w, h)
		if err != nil {
			return nil, err
		}
		img, _ = aug.Augment(img, nil, rand.New(rand.NewSource(ic.Seed+int64(i))))
		if err := images.PackHWC(data[i*slot:(i+1)*slot], img, images.ColorModeBGR); err != nil {
			return nil, err
		}
		in.images = append(in.images, img)
	}
	log.Infof("Loaded %d test images from %s (%s stage)", len(paths), ic.TestPath, ic.Stage)
	return in, nil
}

// randomBatch returns n inputs drawn uniformly from [0, 1).
func randomBatch(rng *rand.Rand, n, h, w int) *tensor.Dense {
	data := make([]float32, n*h*w*3)
	for i := range data {
		data[i] = rng.Float32()
	}
	return tensor.New(tensor.WithShape(n, h, w, 3), tensor.WithBacking(data))
}

func report(ic config.InferenceConfig, out *inference.Outputs, in *inputs, log logs.Log) error {
	if ic.OutputDir != "" {
		if err := os.MkdirAll(ic.OutputDir, 0o755); err != nil {
			return errors.Wrap(err, "create output directory")
		}
	}
	w, h := ic.Engine.InputWidth, ic.Engine.InputHeight

	for i, path := range in.paths {
		rects, err := decode.Rectangles(out, i, ic.Confidence, w, h)
		if err != nil {
			return err
		}
		found := len(rects)
		if ic.Merge {
			rects = cv.GroupRectangles(rects, ic.MergeThreshold, ic.MergeEps)
		}
		log.Infof("%s: %d cells above %.2f, %d boxes", path, found, ic.Confidence, len(rects))

		if ic.OutputDir == "" {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := cv.DrawImage(in.images[i], filepath.Join(ic.OutputDir, stem+"_boxes.png"), rects); err != nil {
			return err
		}
		heat, err := decode.Heatmap(out, i, w, h)
		if err != nil {
			return err
		}
		if err := cv.WriteGray(heat, filepath.Join(ic.OutputDir, stem+"_classes.png")); err != nil {
			return err
		}
	}
	return nil
}
