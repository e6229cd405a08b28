package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMetric(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})
	for _, v := range []float64{3, 1, 2} {
		rp.RecordMetric("cells", v)
	}
	s := rp.Snapshot()
	require.Contains(t, s.Metrics, "cells")
	m := s.Metrics["cells"]
	assert.EqualValues(t, 3, m.Count)
	assert.Equal(t, 1.0, m.Min)
	assert.Equal(t, 3.0, m.Max)
	assert.Equal(t, 2.0, m.Mean())
	assert.Zero(t, Tracker{}.Mean())
}

func TestOperations(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})
	rp.RecordOperation("batch", 2*time.Second)
	rp.RecordOperation("batch", 4*time.Second)
	done := rp.StartOperation("load")
	done()

	s := rp.Snapshot()
	assert.InDelta(t, 3.0, s.Operations["batch"].Mean(), 1e-9)
	assert.EqualValues(t, 1, s.Operations["load"].Count)
}

func TestConcurrentRecording(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rp.RecordMetric("m", 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 800, rp.Snapshot().Metrics["m"].Count)
}

func TestStartStop(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{ReportInterval: time.Millisecond, Logger: logs.NewTestingLog(t)})
	rp.RecordMetric("m", 1)
	rp.Start()
	rp.Start()
	time.Sleep(5 * time.Millisecond)
	rp.Stop()
	rp.Stop()
	rp.Report()
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2<<20))
}
