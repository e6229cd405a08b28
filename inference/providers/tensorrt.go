package providers

import (
	"fmt"
)

// TensorRTOptions contains arguments for the TensorRT provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/TensorRT-ExecutionProvider.html#configurations
type TensorRTOptions struct {
	DeviceID int `json:"deviceID" yaml:"deviceID"`
	// MaxWorkspaceSize is the TensorRT builder workspace in bytes.
	MaxWorkspaceSize int64 `json:"maxWorkspaceSize" yaml:"maxWorkspaceSize"`
	FP16             bool  `json:"fp16" yaml:"fp16"`
	INT8             bool  `json:"int8" yaml:"int8"`
	// CalibrationTable is the INT8 calibration table file name.
	CalibrationTable string `json:"calibrationTable" yaml:"calibrationTable"`
	// EngineCachePath enables engine caching when set.
	EngineCachePath string `json:"engineCachePath" yaml:"engineCachePath"`
	// Profiles pin the input shapes the engine is built for.
	Profiles []ShapeProfile `json:"profiles" yaml:"profiles"`
}

// DefaultTensorRTOptions returns fp32 options with a 1GB workspace.
func DefaultTensorRTOptions() TensorRTOptions {
	return TensorRTOptions{MaxWorkspaceSize: 1 << 30}
}

// Map returns the provider option keys understood by ONNX Runtime.
func (o TensorRTOptions) Map() map[string]string {
	m := map[string]string{
		"device_id":       fmt.Sprintf("%d", o.DeviceID),
		"trt_fp16_enable": boolFlag(o.FP16),
		"trt_int8_enable": boolFlag(o.INT8),
	}
	if o.MaxWorkspaceSize > 0 {
		m["trt_max_workspace_size"] = fmt.Sprintf("%d", o.MaxWorkspaceSize)
	}
	if o.INT8 && o.CalibrationTable != "" {
		m["trt_int8_calibration_table_name"] = o.CalibrationTable
	}
	if o.EngineCachePath != "" {
		m["trt_engine_cache_enable"] = "1"
		m["trt_engine_cache_path"] = o.EngineCachePath
	}
	if len(o.Profiles) > 0 {
		m["trt_profile_min_shapes"] = profileString(o.Profiles, func(p ShapeProfile) []int64 { return p.Min })
		m["trt_profile_opt_shapes"] = profileString(o.Profiles, func(p ShapeProfile) []int64 { return p.Opt })
		m["trt_profile_max_shapes"] = profileString(o.Profiles, func(p ShapeProfile) []int64 { return p.Max })
	}
	return m
}
