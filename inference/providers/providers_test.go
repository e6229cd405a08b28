package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"cpu": CPUBackend, "CUDA": CUDABackend, " tensorrt ": TensorRTBackend} {
		got, err := ParseBackend(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseBackend("coreml")
	assert.Error(t, err)
}

func TestTensorRTOptions_Map(t *testing.T) {
	t.Run("fp32", func(t *testing.T) {
		m := DefaultTensorRTOptions().Map()
		assert.Equal(t, "0", m["trt_fp16_enable"])
		assert.Equal(t, "0", m["trt_int8_enable"])
		assert.Equal(t, "1073741824", m["trt_max_workspace_size"])
		assert.NotContains(t, m, "trt_engine_cache_enable")
		assert.NotContains(t, m, "trt_int8_calibration_table_name")
	})

	t.Run("int8 with cache and profile", func(t *testing.T) {
		o := DefaultTensorRTOptions()
		o.INT8 = true
		o.CalibrationTable = "calibration.flatbuffers"
		o.EngineCachePath = "/tmp/trt"
		o.Profiles = []ShapeProfile{
			FixedProfile("input_1", 8, 224, 224, 3),
			{InputName: "aux", Min: []int64{1, 4}, Opt: []int64{2, 4}, Max: []int64{8, 4}},
		}

		m := o.Map()
		assert.Equal(t, "1", m["trt_int8_enable"])
		assert.Equal(t, "calibration.flatbuffers", m["trt_int8_calibration_table_name"])
		assert.Equal(t, "1", m["trt_engine_cache_enable"])
		assert.Equal(t, "/tmp/trt", m["trt_engine_cache_path"])
		assert.Equal(t, "input_1:8x224x224x3,aux:1x4", m["trt_profile_min_shapes"])
		assert.Equal(t, "input_1:8x224x224x3,aux:2x4", m["trt_profile_opt_shapes"])
		assert.Equal(t, "input_1:8x224x224x3,aux:8x4", m["trt_profile_max_shapes"])
	})
}

func TestCUDAOptions_Map(t *testing.T) {
	o := DefaultCUDAOptions()
	o.DeviceID = 1
	m := o.Map()
	assert.Equal(t, "1", m["device_id"])
	assert.Equal(t, "kSameAsRequested", m["arena_extend_strategy"])
	assert.Equal(t, "1", m["do_copy_in_default_stream"])
	assert.Equal(t, "0", m["use_tf32"])
	assert.NotContains(t, m, "gpu_mem_limit")

	o.GPUMemLimit = 2 << 30
	assert.Equal(t, "2147483648", o.Map()["gpu_mem_limit"])
}

func TestSharedLibPath(t *testing.T) {
	assert.Equal(t, "/opt/ort.so", SharedLibPath("/opt/ort.so"))

	t.Setenv(LibraryPathEnv, "/env/ort.so")
	assert.Equal(t, "/env/ort.so", SharedLibPath(""))

	t.Setenv(LibraryPathEnv, "")
	assert.NotEmpty(t, SharedLibPath(""))
}

func TestInitialize_MissingLibrary(t *testing.T) {
	err := Initialize("/nonexistent/libonnxruntime.so")
	if err == nil {
		t.Skip("environment already initialized by another test")
	}
	assert.Contains(t, err.Error(), "/nonexistent/libonnxruntime.so")
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions(TensorRTBackend)
	assert.Equal(t, TensorRTBackend, o.Backend)
	assert.GreaterOrEqual(t, o.IntraOpNumThreads, 1)
	assert.Equal(t, 1, o.InterOpNumThreads)
}
