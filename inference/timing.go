package inference

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// Timing is the wall time of one timed inference call.
type Timing struct {
	Batch    int
	Duration time.Duration
	FPS      float64
}

func newTiming(batch int, d time.Duration) Timing {
	t := Timing{Batch: batch, Duration: d}
	if d > 0 {
		t.FPS = float64(batch) / d.Seconds()
	}
	return t
}

// Benchmark runs cold once to absorb one-time setup cost (graph compilation,
// engine building, allocator warm-up), waits for it to complete, then times a
// single call on batch.
//
// Arguments:
//   - ctx: Cancels the run between calls.
//   - e: The engine to time.
//   - cold: The warm-up batch. It may be the same as batch.
//   - batch: The timed batch.
//
// Returns:
//   - *Outputs: The outputs of the timed call.
//   - Timing: The duration and frames per second of the timed call.
//   - error: If either call fails.
func Benchmark(ctx context.Context, e Engine, cold, batch *tensor.Dense) (*Outputs, Timing, error) {
	if _, err := e.Infer(ctx, cold); err != nil {
		return nil, Timing{}, errors.Wrap(err, "cold run")
	}
	if err := ctx.Err(); err != nil {
		return nil, Timing{}, err
	}

	start := time.Now()
	out, err := e.Infer(ctx, batch)
	elapsed := time.Since(start)
	if err != nil {
		return nil, Timing{}, errors.Wrap(err, "timed run")
	}
	return out, newTiming(batch.Shape()[0], elapsed), nil
}

// Summary aggregates repeated timings.
type Summary struct {
	Runs   int
	Batch  int
	Mean   time.Duration
	StdDev time.Duration
	Min    time.Duration
	Max    time.Duration
	FPS    float64
}

// Repeat times n calls on batch after one untimed warm-up call.
func Repeat(ctx context.Context, e Engine, batch *tensor.Dense, n int) (Summary, error) {
	if n <= 0 {
		return Summary{}, errors.Errorf("repeat count must be positive, got %d", n)
	}
	if _, err := e.Infer(ctx, batch); err != nil {
		return Summary{}, errors.Wrap(err, "cold run")
	}

	seconds := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		start := time.Now()
		if _, err := e.Infer(ctx, batch); err != nil {
			return Summary{}, errors.Wrapf(err, "run %d", i)
		}
		seconds = append(seconds, time.Since(start).Seconds())
	}
	return summarize(seconds, batch.Shape()[0]), nil
}

func summarize(seconds []float64, batch int) Summary {
	mean, std := stat.MeanStdDev(seconds, nil)
	if len(seconds) < 2 {
		std = 0
	}
	lo, hi := seconds[0], seconds[0]
	for _, s := range seconds[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	s := Summary{
		Runs:   len(seconds),
		Batch:  batch,
		Mean:   toDuration(mean),
		StdDev: toDuration(std),
		Min:    toDuration(lo),
		Max:    toDuration(hi),
	}
	if mean > 0 {
		s.FPS = float64(batch) / mean
	}
	return s
}

func toDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
