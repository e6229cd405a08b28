package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/mobiledetectnet/augment"
	"github.com/nvr-ai/mobiledetectnet/dataset"
	"github.com/nvr-ai/mobiledetectnet/profiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeUnreadable creates n samples whose image files are empty.
func writeUnreadable(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "images"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "labels"), 0o755))
	for i := 0; i < n; i++ {
		stem := fmt.Sprintf("%06d", i)
		require.NoError(t, os.WriteFile(filepath.Join(root, "images", stem+".png"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "labels", stem+".txt"), nil, 0o644))
	}
	return root
}

func TestRun_StopsWorkersOnError(t *testing.T) {
	cfg := dataset.DefaultConfig(writeUnreadable(t, 12))
	cfg.Stage = augment.StageTest
	cfg.BatchSize = 1
	cfg.InputWidth, cfg.InputHeight = 56, 56
	cfg.Corrupt = dataset.CorruptAbort

	log := logs.NewTestingLog(t)
	seq, err := dataset.NewSequence(cfg, dataset.WithLogger(log))
	require.NoError(t, err)
	require.Equal(t, 12, seq.Len())

	before := runtime.NumGoroutine()
	_, err = run(context.Background(), seq, 4, profiler.NewRuntimeProfiler(profiler.ProfilingOptions{Logger: log}), log)
	require.Error(t, err)

	// Workers still holding batches exit instead of blocking on the stream.
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, 5*time.Second, 10*time.Millisecond)
}
