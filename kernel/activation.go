package kernel

import "github.com/ollama-fork/gpuinfer/gpu"

// SiLUGated computes silu(gate) * up elementwise, the SwiGLU activation
// used by every FFN in the pack (deepseek2/glm4moelite's dense and expert
// MLPs), grounded on the teacher's ggml_silu + ggml_mul pair in
// tensor_nn.go fused into one dispatch.
func SiLUGated(rec *gpu.Recorder, gate, up *gpu.Buffer, n int, label string) (*gpu.Buffer, error) {
	out, err := rec.Acquire(int64(n)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}
	rec.Dispatch("activation.silu_gated", []*gpu.Buffer{gate, up, out}, [3]uint32{ceilDiv(n, 256), 1, 1})
	return out, nil
}

func RunSiLUGated(dev *gpu.Device, gate, up *gpu.Buffer, n int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return SiLUGated(rec, gate, up, n, label)
	})
}

// SiLUGatedFused computes the same silu(gate) * up as SiLUGated, but reads
// both halves from a single row-major [rows, 2*inner] tensor instead of two
// separate buffers, per spec.md §4.3's row-split variant: "the kernel reads
// both halves per row." This is the 2-pass dense FFN path's activation
// step, fed directly by the fused w_gate_up projection.
func SiLUGatedFused(rec *gpu.Recorder, fused *gpu.Buffer, rows, inner int, label string) (*gpu.Buffer, error) {
	out, err := rec.Acquire(int64(rows*inner)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}
	rec.Dispatch("activation.silu_gated_fused", []*gpu.Buffer{fused, out}, [3]uint32{ceilDiv(inner, 256), uint32(rows), 1})
	return out, nil
}

func RunSiLUGatedFused(dev *gpu.Device, fused *gpu.Buffer, rows, inner int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return SiLUGatedFused(rec, fused, rows, inner, label)
	})
}
