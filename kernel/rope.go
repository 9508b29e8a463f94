package kernel

import (
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
)

// RoPE applies rotary position embedding to qk in place, grounded on the
// teacher's ggml_rope_ext call (tensor_ops.go) but collapsed to the single
// NEOX-style interleave spec.md §4.3 names, since the pack never shows an
// original-style (non-NEOX) rotation in active use. cosTable/sinTable are
// precomputed per-position tables (pipeline.RoPETable) sized
// [max_position, half_dim].
func RoPE(rec *gpu.Recorder, table *dispatch.Table, layer int, qk *gpu.Buffer, tokens, numHeads, headDim int, cosTable, sinTable *gpu.Buffer, startPos int) error {
	variant, err := table.Select(dispatch.OpRoPE, layer, dispatch.Shape{M: tokens, HeadDim: headDim})
	if err != nil {
		return err
	}

	posBuf, err := rec.Upload(u32Bytes(uint32(startPos)), gpu.DTypeU32, "rope.start_pos")
	if err != nil {
		return err
	}

	halfDim := headDim / 2
	rec.Dispatch(string(variant), []*gpu.Buffer{qk, cosTable, sinTable, posBuf}, [3]uint32{uint32(halfDim), uint32(numHeads), uint32(tokens)})
	return nil
}

// RunRoPE submits a standalone RoPE application and blocks for completion.
func RunRoPE(dev *gpu.Device, table *dispatch.Table, layer int, qk *gpu.Buffer, tokens, numHeads, headDim int, cosTable, sinTable *gpu.Buffer, startPos int) error {
	_, err := runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		if err := RoPE(rec, table, layer, qk, tokens, numHeads, headDim, cosTable, sinTable, startPos); err != nil {
			return nil, err
		}
		return qk, nil
	})
	return err
}
