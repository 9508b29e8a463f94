package kernel

import (
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
)

// RMSNorm computes y = (x / rms(x)) * weight row-wise, grounded on the
// teacher's ggml_rms_norm call in tensor_nn.go. x is [rows, hidden].
func RMSNorm(rec *gpu.Recorder, table *dispatch.Table, layer int, x, weight *gpu.Buffer, rows, hidden int, eps float32, label string) (*gpu.Buffer, error) {
	variant, err := table.Select(dispatch.OpRMSNorm, layer, dispatch.Shape{M: rows, HeadDim: hidden})
	if err != nil {
		return nil, err
	}

	out, err := rec.Acquire(int64(rows*hidden)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}

	epsBuf, err := rec.Upload(f32Bytes(eps), gpu.DTypeF32, label+".eps")
	if err != nil {
		return nil, err
	}

	rec.Dispatch(string(variant), []*gpu.Buffer{x, weight, out, epsBuf}, [3]uint32{uint32(rows), 1, 1})
	return out, nil
}

func RunRMSNorm(dev *gpu.Device, table *dispatch.Table, layer int, x, weight *gpu.Buffer, rows, hidden int, eps float32, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return RMSNorm(rec, table, layer, x, weight, rows, hidden, eps, label)
	})
}
