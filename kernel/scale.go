package kernel

import "github.com/ollama-fork/gpuinfer/gpu"

// Scale computes y = x * factor elementwise, grounded on the teacher's
// ggml Tensor.Scale calls (gemma3n/model_text.go's embedding-scale and
// per-layer-projection uses).
func Scale(rec *gpu.Recorder, x *gpu.Buffer, n int, factor float32, label string) (*gpu.Buffer, error) {
	out, err := rec.Acquire(int64(n)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}

	factorBuf, err := rec.Upload(f32Bytes(factor), gpu.DTypeF32, label+".factor")
	if err != nil {
		return nil, err
	}

	rec.Dispatch("elementwise.scale", []*gpu.Buffer{x, factorBuf, out}, [3]uint32{ceilDiv(n, 256), 1, 1})
	return out, nil
}

func RunScale(dev *gpu.Device, x *gpu.Buffer, n int, factor float32, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return Scale(rec, x, n, factor, label)
	})
}
