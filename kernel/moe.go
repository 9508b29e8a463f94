package kernel

import (
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
)

// MoEGather packs one activation row per (token, routed-expert) pair into a
// contiguous batch so each expert's FFN runs over a dense batch rather than
// a token-scattered one. tokenIndices is a [numPairs]u32 buffer mapping each
// output row back to its source token (produced by the router's top-k
// selection, flattened and sorted by expert on the host side). There is
// only one shader for this op, so no dispatch.Table lookup is needed.
func MoEGather(rec *gpu.Recorder, x, tokenIndices *gpu.Buffer, numPairs, hiddenSize int, label string) (*gpu.Buffer, error) {
	out, err := rec.Acquire(int64(numPairs*hiddenSize)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}

	rec.Dispatch("moe.gather_rows", []*gpu.Buffer{x, tokenIndices, out}, [3]uint32{ceilDiv(hiddenSize, 256), uint32(numPairs), 1})
	return out, nil
}

func RunMoEGather(dev *gpu.Device, x, tokenIndices *gpu.Buffer, numPairs, hiddenSize int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return MoEGather(rec, x, tokenIndices, numPairs, hiddenSize, label)
	})
}

// ScatterAdd accumulates each expert's weighted FFN output back onto its
// source token's row in y, grounded on deepseek2/mlp.go's final
// dst.Add(...Mulmat(combinedWeights, expertOut)) per-expert accumulation,
// generalized from a fixed expert count to an arbitrary (token, expert)
// pair list. y must be pre-zeroed by the caller before the first call for a
// token (residual terms are added separately by the layer processor).
func ScatterAdd(rec *gpu.Recorder, table *dispatch.Table, layer int, expertOutputs, weights, tokenOffsets, y *gpu.Buffer, numPairs, hiddenSize int) error {
	variant, err := table.Select(dispatch.OpScatterAdd, layer, dispatch.Shape{M: numPairs})
	if err != nil {
		return err
	}

	rec.Dispatch(string(variant), []*gpu.Buffer{expertOutputs, weights, tokenOffsets, y}, [3]uint32{ceilDiv(numPairs, 64), 1, 1})
	return nil
}

func RunScatterAdd(dev *gpu.Device, table *dispatch.Table, layer int, expertOutputs, weights, tokenOffsets, y *gpu.Buffer, numPairs, hiddenSize int) error {
	_, err := runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		if err := ScatterAdd(rec, table, layer, expertOutputs, weights, tokenOffsets, y, numPairs, hiddenSize); err != nil {
			return nil, err
		}
		return y, nil
	})
	return err
}
