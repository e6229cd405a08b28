// Package benchmark compares inference backends: latency, memory and
// agreement with the baseline outputs.
package benchmark

import (
	"runtime"
	"time"

	"github.com/nvr-ai/mobiledetectnet/inference"
)

// PerformanceMetrics captures the outcome of one scenario.
type PerformanceMetrics struct {
	Scenario        Scenario          `json:"scenario"`
	Timestamp       time.Time         `json:"timestamp"`
	TotalDuration   time.Duration     `json:"total_duration"`
	Latency         inference.Summary `json:"latency"`
	FramesPerSecond float64           `json:"frames_per_second"`
	MemoryStats     MemoryMetrics     `json:"memory_stats"`
	DetectionCount  int               `json:"detection_count"`

	// Agreement is nil for the baseline itself or when no baseline ran.
	Agreement       *inference.Agreement `json:"agreement,omitempty"`
	Tolerance       float64              `json:"tolerance"`
	WithinTolerance bool                 `json:"within_tolerance"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

func readMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return m
}

// memoryDelta reports end usage and the allocations since start.
func memoryDelta(start, end runtime.MemStats) MemoryMetrics {
	return MemoryMetrics{
		AllocBytes:      end.Alloc,
		TotalAllocBytes: end.TotalAlloc - start.TotalAlloc,
		SysBytes:        end.Sys,
		NumGC:           end.NumGC - start.NumGC,
		HeapAllocBytes:  end.HeapAlloc,
		HeapSysBytes:    end.HeapSys,
	}
}
