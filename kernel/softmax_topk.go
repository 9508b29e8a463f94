package kernel

import (
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
)

// SoftmaxTopK is the MoE router kernel: softmax over num_experts logits per
// token, then the top_k highest-weight experts with ties broken toward the
// lower index, grounded on deepseek2/mlp.go's sparse router (sigmoid/softmax
// gate + topk selection) collapsed into one fused dispatch. When normalize
// is set the selected weights are renormalized to sum to 1, matching
// normTopKProb there.
func SoftmaxTopK(rec *gpu.Recorder, table *dispatch.Table, layer int, logits *gpu.Buffer, numTokens, numExperts, topK int, normalize bool) (indices, weights *gpu.Buffer, err error) {
	variant, err := table.Select(dispatch.OpSoftmaxTopK, layer, dispatch.Shape{M: numTokens})
	if err != nil {
		return nil, nil, err
	}

	indices, err = rec.Acquire(int64(numTokens*topK)*int64(gpu.DTypeU32.ElementSize()), gpu.DTypeU32, "router.indices")
	if err != nil {
		return nil, nil, err
	}
	weights, err = rec.Acquire(int64(numTokens*topK)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, "router.weights")
	if err != nil {
		return nil, nil, err
	}

	var normU32 uint32
	if normalize {
		normU32 = 1
	}
	normBuf, err := rec.Upload(u32Bytes(normU32), gpu.DTypeU32, "router.normalize")
	if err != nil {
		return nil, nil, err
	}

	rec.Dispatch(string(variant), []*gpu.Buffer{logits, indices, weights, normBuf}, [3]uint32{uint32(numTokens), 1, 1})
	return indices, weights, nil
}

func RunSoftmaxTopK(dev *gpu.Device, table *dispatch.Table, layer int, logits *gpu.Buffer, numTokens, numExperts, topK int, normalize bool) (indices, weights *gpu.Buffer, err error) {
	var idx, w *gpu.Buffer
	_, err = runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		var e error
		idx, w, e = SoftmaxTopK(rec, table, layer, logits, numTokens, numExperts, topK, normalize)
		return idx, e
	})
	if err != nil {
		return nil, nil, err
	}
	return idx, w, nil
}
