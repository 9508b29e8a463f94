package kernel

import "github.com/ollama-fork/gpuinfer/gpu"

// ResidualAdd computes y = a + b elementwise, grounded on the teacher's
// ggml_add residual connections threaded through every transformer block
// (deepseek2/attention.go, model.go).
func ResidualAdd(rec *gpu.Recorder, a, b *gpu.Buffer, n int, label string) (*gpu.Buffer, error) {
	out, err := rec.Acquire(int64(n)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}
	rec.Dispatch("residual.add", []*gpu.Buffer{a, b, out}, [3]uint32{ceilDiv(n, 256), 1, 1})
	return out, nil
}

func RunResidualAdd(dev *gpu.Device, a, b *gpu.Buffer, n int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return ResidualAdd(rec, a, b, n, label)
	})
}
