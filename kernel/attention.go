package kernel

import (
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
)

// Attention runs flash-style online-softmax attention of q against the KV
// cache contents k/v, grounded on the teacher's ggml_flash_attn_ext call
// (tensor_nn.go), generalized to take an explicit sliding window (window<=0
// means unbounded/causal-only) and GQA head grouping (heads/kvHeads).
// startPos is the absolute position of q's first token, used for the
// causal and window bound checks inside the shader.
func Attention(rec *gpu.Recorder, table *dispatch.Table, layer int, q, k, v *gpu.Buffer, tokens, lkv, heads, kvHeads, headDim, startPos, window int, label string) (*gpu.Buffer, error) {
	variant, err := table.Select(dispatch.OpAttention, layer, dispatch.Shape{
		M: tokens, HeadDim: headDim, KVDType: k.DType(),
	})
	if err != nil {
		return nil, err
	}

	out, err := rec.Acquire(int64(tokens*heads*headDim)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}

	// params packs the values the [heads, tokens, 1] workgroup dispatch
	// can't carry on its own: kv_heads (for GQA head grouping), lkv (cache
	// length to scan), start_pos and window (causal/sliding bounds).
	params := make([]byte, 20)
	copy(params[0:4], u32Bytes(uint32(kvHeads)))
	copy(params[4:8], u32Bytes(uint32(lkv)))
	copy(params[8:12], u32Bytes(uint32(startPos)))
	copy(params[12:16], u32Bytes(uint32(int32(window))))
	copy(params[16:20], u32Bytes(uint32(headDim)))
	paramsBuf, err := rec.Upload(params, gpu.DTypeU32, label+".params")
	if err != nil {
		return nil, err
	}

	rec.Dispatch(string(variant), []*gpu.Buffer{q, k, v, out, paramsBuf}, [3]uint32{uint32(heads), uint32(tokens), 1})
	return out, nil
}

func RunAttention(dev *gpu.Device, table *dispatch.Table, layer int, q, k, v *gpu.Buffer, tokens, lkv, heads, kvHeads, headDim, startPos, window int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return Attention(rec, table, layer, q, k, v, tokens, lkv, heads, kvHeads, headDim, startPos, window, label)
	})
}
