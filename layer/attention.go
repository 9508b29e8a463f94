package layer

import (
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/kernel"
	"github.com/ollama-fork/gpuinfer/kvcache"
)

// AttentionParams carries the per-model shape constants the attention
// sublayer needs beyond the per-layer weights: head counts, epsilon, the
// sliding-window bound (0 means unbounded, matching kvcache.Cache.Window),
// and the absolute start position of this batch's first token.
type AttentionParams struct {
	NumHeads, NumKVHeads, HeadDim int
	Eps                           float32
	Window                        int
	StartPos                      int
}

// forwardAttention runs rmsnorm -> q/k/v projections -> optional per-head
// q_norm/k_norm -> RoPE -> cache append -> flash attention against the full
// cached K,V -> output projection, per spec.md §4.7's attention path.
// Grounded on deepseek2's Attention.Forward, collapsed from its MLA
// compressed-KV split to a plain QKV projection (spec.md's committed
// layer-weight shape, {w_qkv split, w_o}), since nothing else in the pack's
// MoE-routed models needs the MLA-specific compression.
func forwardAttention(rec *gpu.Recorder, table *dispatch.Table, layerIdx int, cache *kvcache.Cache, w AttentionWeights, x, cosTable, sinTable *gpu.Buffer, numTokens int, p AttentionParams) (*gpu.Buffer, error) {
	hidden := p.NumHeads * p.HeadDim
	kvHidden := p.NumKVHeads * p.HeadDim

	normed, err := kernel.RMSNorm(rec, table, layerIdx, x, w.InputNorm, numTokens, hidden, p.Eps, "attn.input_norm")
	if err != nil {
		return nil, err
	}

	q, err := kernel.Matmul(rec, table, layerIdx, normed, w.WQ, numTokens, hidden, hidden, "attn.q")
	if err != nil {
		return nil, err
	}
	k, err := kernel.Matmul(rec, table, layerIdx, normed, w.WK, numTokens, hidden, kvHidden, "attn.k")
	if err != nil {
		return nil, err
	}
	v, err := kernel.Matmul(rec, table, layerIdx, normed, w.WV, numTokens, hidden, kvHidden, "attn.v")
	if err != nil {
		return nil, err
	}

	if w.QNorm != nil {
		if q, err = kernel.RMSNorm(rec, table, layerIdx, q, w.QNorm, numTokens*p.NumHeads, p.HeadDim, p.Eps, "attn.q_norm"); err != nil {
			return nil, err
		}
	}
	if w.KNorm != nil {
		if k, err = kernel.RMSNorm(rec, table, layerIdx, k, w.KNorm, numTokens*p.NumKVHeads, p.HeadDim, p.Eps, "attn.k_norm"); err != nil {
			return nil, err
		}
	}

	if err := kernel.RoPE(rec, table, layerIdx, q, numTokens, p.NumHeads, p.HeadDim, cosTable, sinTable, p.StartPos); err != nil {
		return nil, err
	}
	if err := kernel.RoPE(rec, table, layerIdx, k, numTokens, p.NumKVHeads, p.HeadDim, cosTable, sinTable, p.StartPos); err != nil {
		return nil, err
	}

	if err := cache.Append(rec, layerIdx, k, v, numTokens); err != nil {
		return nil, err
	}

	ck, cv, lkv, err := cache.Get(layerIdx)
	if err != nil {
		return nil, err
	}
	// Get counts only rows from earlier passes (the cursor advances after
	// the whole forward pass), so add the rows Append just recorded.
	lkv += numTokens
	if lkv > cache.Capacity() {
		lkv = cache.Capacity()
	}

	attnOut, err := kernel.Attention(rec, table, layerIdx, q, ck, cv, numTokens, lkv, p.NumHeads, p.NumKVHeads, p.HeadDim, p.StartPos, p.Window, "attn.scores")
	if err != nil {
		return nil, err
	}

	proj, err := kernel.Matmul(rec, table, layerIdx, attnOut, w.WO, numTokens, hidden, hidden, "attn.proj")
	if err != nil {
		return nil, err
	}

	if w.PostAttnNorm != nil {
		if proj, err = kernel.RMSNorm(rec, table, layerIdx, proj, w.PostAttnNorm, numTokens, hidden, p.Eps, "attn.post_norm"); err != nil {
			return nil, err
		}
	}
	return proj, nil
}
