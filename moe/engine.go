package moe

import (
	"context"

	"github.com/ollama-fork/gpuinfer/expertcache"
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/kernel"
)

// ExpertWeights holds one expert's FFN weight buffers, already resident in
// device memory (expertcache.EnsureLoaded's result), matching the Gate/Up/
// Down triple the teacher's sparse/dense MLPs share.
type ExpertWeights struct {
	Gate, Up, Down *gpu.Buffer
}

// RouterWeights holds the gate projection and optional bias, matching the
// teacher's Router *nn.Linear and ExpProbsBias.
type RouterWeights struct {
	Gate *gpu.Buffer
	Bias *gpu.Buffer // nil when !Config.UseProbsBias
}

// FetchExpert retrieves one expert's weights for layer, loading through
// cache on a miss.
type FetchExpert func(ctx context.Context, cache *expertcache.Cache, layer, expert int) (ExpertWeights, error)

// Engine runs the MoE forward pass for one layer at a time, sharing one
// dispatch.Table and expertcache.Cache across every layer's call.
type Engine struct {
	cfg   Config
	table *dispatch.Table
	cache *expertcache.Cache
	fetch FetchExpert
}

func NewEngine(cfg Config, table *dispatch.Table, cache *expertcache.Cache, fetch FetchExpert) *Engine {
	return &Engine{cfg: cfg, table: table, cache: cache, fetch: fetch}
}

// Forward routes hiddenStates (numTokens rows of HiddenSize) through the
// MoE layer: router -> top-k -> per-expert gather -> FFN -> scatter-add,
// plus every configured shared expert's dense FFN added unconditionally,
// grounded on sparse.Forward's routed-plus-shared combination.
func (e *Engine) Forward(ctx context.Context, rec *gpu.Recorder, layer int, hiddenStates *gpu.Buffer, numTokens int, router RouterWeights) (*gpu.Buffer, error) {
	logitsBuf, err := kernel.Matmul(rec, e.table, layer, hiddenStates, router.Gate, numTokens, e.cfg.HiddenSize, e.cfg.NumExperts, "router.logits")
	if err != nil {
		return nil, err
	}

	indices, weights, err := kernel.SoftmaxTopK(rec, e.table, layer, logitsBuf, numTokens, e.cfg.NumExperts, e.cfg.NumExpertsUsed, e.cfg.NormTopKProb)
	if err != nil {
		return nil, err
	}

	// token_offsets/pair bookkeeping (which expert each of the numTokens *
	// NumExpertsUsed pairs belongs to) is read back once per batch rather
	// than computed on-device, since expert assignment drives which
	// expertcache entries get fetched next and that decision has to happen
	// on the host (spec.md §5's allowed router readback point).
	pairTokens, pairExperts, err := e.readRouting(rec, indices, numTokens)
	if err != nil {
		return nil, err
	}

	out, err := rec.Acquire(hiddenStates.Size(), gpu.DTypeF32, "moe.out")
	if err != nil {
		return nil, err
	}

	byExpert := groupPairsByExpert(pairExperts)

	for expert, pairs := range byExpert {
		w, err := e.fetch(ctx, e.cache, layer, expert)
		if err != nil {
			return nil, err
		}
		e.cache.MarkInUse(expertcache.Key{Layer: layer, Expert: expert})

		tokenIdx, err := e.buildTokenIndexBuffer(rec, pairs, pairTokens)
		if err != nil {
			return nil, err
		}

		gathered, err := kernel.MoEGather(rec, hiddenStates, tokenIdx, len(pairs), e.cfg.HiddenSize, "moe.gathered")
		if err != nil {
			return nil, err
		}

		ffnOut, err := e.expertFFN(rec, layer, gathered, w, len(pairs))
		if err != nil {
			return nil, err
		}

		weightSlice, err := e.buildWeightBuffer(rec, pairs, weights)
		if err != nil {
			return nil, err
		}

		if err := kernel.ScatterAdd(rec, e.table, layer, ffnOut, weightSlice, tokenIdx, out, len(pairs), e.cfg.HiddenSize); err != nil {
			return nil, err
		}
	}

	for _, expert := range e.cfg.SharedExperts {
		w, err := e.fetch(ctx, e.cache, layer, expert)
		if err != nil {
			return nil, err
		}
		ffnOut, err := e.expertFFN(rec, layer, hiddenStates, w, numTokens)
		if err != nil {
			return nil, err
		}
		out, err = kernel.ResidualAdd(rec, out, ffnOut, numTokens*e.cfg.HiddenSize, "moe.out_with_shared")
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// expertFFN computes Down(SiLU(Gate(x)) * Up(x)) for one expert's packed
// batch, grounded directly on dense.Forward and sparse.Moe's gate/up/silu/
// down chain.
func (e *Engine) expertFFN(rec *gpu.Recorder, layer int, x *gpu.Buffer, w ExpertWeights, rows int) (*gpu.Buffer, error) {
	gate, err := kernel.Matmul(rec, e.table, layer, x, w.Gate, rows, e.cfg.HiddenSize, e.cfg.HiddenSize, "ffn.gate")
	if err != nil {
		return nil, err
	}
	up, err := kernel.Matmul(rec, e.table, layer, x, w.Up, rows, e.cfg.HiddenSize, e.cfg.HiddenSize, "ffn.up")
	if err != nil {
		return nil, err
	}
	act, err := kernel.SiLUGated(rec, gate, up, rows*e.cfg.HiddenSize, "ffn.act")
	if err != nil {
		return nil, err
	}
	return kernel.Matmul(rec, e.table, layer, act, w.Down, rows, e.cfg.HiddenSize, e.cfg.HiddenSize, "ffn.down")
}

// readRouting, buildTokenIndexBuffer and buildWeightBuffer are the
// host-side glue between the router's device-resident top-k output and
// the per-expert batch buffers MoEGather/ScatterAdd expect; their bodies
// live in router.go.
