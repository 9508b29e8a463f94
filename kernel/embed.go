package kernel

import "github.com/ollama-fork/gpuinfer/gpu"

// Gather looks up one embedding row per token id, grounded on the teacher's
// ggml_get_rows call used for the input embedding table (model.go).
func Gather(rec *gpu.Recorder, ids, table *gpu.Buffer, numTokens, hiddenSize int, label string) (*gpu.Buffer, error) {
	out, err := rec.Acquire(int64(numTokens*hiddenSize)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}
	rec.Dispatch("embed.gather", []*gpu.Buffer{ids, table, out}, [3]uint32{ceilDiv(hiddenSize, 256), uint32(numTokens), 1})
	return out, nil
}

func RunGather(dev *gpu.Device, ids, table *gpu.Buffer, numTokens, hiddenSize int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return Gather(rec, ids, table, numTokens, hiddenSize, label)
	})
}
