package layer

import (
	"context"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/kernel"
	"github.com/ollama-fork/gpuinfer/moe"
)

// FFN is implemented by DenseFFN and MoEFFN, mirroring the teacher's MLP
// interface split between dense and sparse (model/models/deepseek2/mlp.go).
// Which one a given layer uses is decided once at model load time from
// layer_kinds[l] or the model-level moe flag (spec.md §4.7), not per call.
type FFN interface {
	Forward(ctx context.Context, rec *gpu.Recorder, table *dispatch.Table, layerIdx int, x *gpu.Buffer, numTokens, hiddenSize int) (*gpu.Buffer, error)
}

// DenseFFN runs the 2-pass fused or 3-pass split gate/up/down FFN, grounded
// on dense.Forward's Gate/SILU(Up)/Down chain (mlp.go).
type DenseFFN struct {
	Weights DenseFFNWeights
}

func (f *DenseFFN) Forward(_ context.Context, rec *gpu.Recorder, table *dispatch.Table, layerIdx int, x *gpu.Buffer, numTokens, hiddenSize int) (*gpu.Buffer, error) {
	var act *gpu.Buffer
	var err error

	if f.Weights.WGateUp != nil {
		fused, ferr := kernel.Matmul(rec, table, layerIdx, x, f.Weights.WGateUp, numTokens, hiddenSize, hiddenSize*2, "ffn.gate_up")
		if ferr != nil {
			return nil, ferr
		}
		act, err = kernel.SiLUGatedFused(rec, fused, numTokens, hiddenSize, "ffn.act")
	} else {
		gate, gerr := kernel.Matmul(rec, table, layerIdx, x, f.Weights.WGate, numTokens, hiddenSize, hiddenSize, "ffn.gate")
		if gerr != nil {
			return nil, gerr
		}
		up, uerr := kernel.Matmul(rec, table, layerIdx, x, f.Weights.WUp, numTokens, hiddenSize, hiddenSize, "ffn.up")
		if uerr != nil {
			return nil, uerr
		}
		act, err = kernel.SiLUGated(rec, gate, up, numTokens*hiddenSize, "ffn.act")
	}
	if err != nil {
		return nil, err
	}

	return kernel.Matmul(rec, table, layerIdx, act, f.Weights.WDown, numTokens, hiddenSize, hiddenSize, "ffn.down")
}

// MoEFFN adapts moe.Engine to the FFN interface, grounded on sparse.Forward
// delegating its routed computation to sparse.Moe (mlp.go): the layer
// processor doesn't know or care how the MoE engine picks experts, only
// that it returns the combined routed-plus-shared output.
type MoEFFN struct {
	Engine *moe.Engine
	Router moe.RouterWeights
}

func (f *MoEFFN) Forward(ctx context.Context, rec *gpu.Recorder, _ *dispatch.Table, layerIdx int, x *gpu.Buffer, numTokens, _ int) (*gpu.Buffer, error) {
	return f.Engine.Forward(ctx, rec, layerIdx, x, numTokens, f.Router)
}
