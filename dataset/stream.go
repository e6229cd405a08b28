package dataset

import (
	"context"
	"sync"
)

// Result is one batch produced by Stream.
type Result struct {
	Index int
	Batch *Batch
	Err   error
}

// Stream builds every batch of the sequence with a pool of workers and sends
// the results, in completion order, on the returned channel. The channel is
// closed once all batches are sent or ctx is cancelled.
func (s *Sequence) Stream(ctx context.Context, workers int) <-chan Result {
	if workers <= 0 {
		workers = 1
	}

	out := make(chan Result, workers)
	indices := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indices {
				b, err := s.Batch(ctx, idx)
				select {
				case out <- Result{Index: idx, Batch: b, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(indices)
		for idx := 0; idx < s.Len(); idx++ {
			select {
			case indices <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
