package pipeline

import (
	"github.com/ollama-fork/gpuinfer/expertcache"
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/layer"
	"github.com/ollama-fork/gpuinfer/moe"
)

// LayerWeights holds one layer's resident buffers: the attention weights
// every layer has, plus exactly one of Dense or Router depending on
// Config.LayerKinds[i].MoE. Populated by a shard loader (adapter package)
// that resolves spec.md §6.1's tensor table into device-resident buffers;
// this package only describes the shape the loader must fill in.
type LayerWeights struct {
	Attention layer.AttentionWeights

	// FFNPreNorm/FFNPostNorm carry the per-layer norm weights Layer.Forward
	// needs outside of AttentionWeights (see layer.Layer's own field
	// comment for the naming note on why these aren't folded into
	// AttentionWeights).
	FFNPreNorm, FFNPostNorm *gpu.Buffer

	Dense  *layer.DenseFFNWeights
	Router *moe.RouterWeights
}

// Weights is the full set of resident model weights, per spec.md §3's
// model weights entity: embedding table, per-layer blocks, final norm, and
// an optional dedicated LM head (nil when Config.TiedEmbeddings, in which
// case EmbedTokens doubles as the LM head's [vocab, hidden] weight matrix
// per ggml_mul_mat's row-major [N,K] convention).
type Weights struct {
	EmbedTokens *gpu.Buffer
	OutputNorm  *gpu.Buffer
	LMHead      *gpu.Buffer
	Layers      []LayerWeights
}

// buildLayers assembles cfg.NumLayers layer.Layer values from w, wiring a
// shared moe.Engine into every MoE-routed layer and a fresh layer.DenseFFN
// into every dense one. One moe.Engine (and the expertcache.Cache it reads
// through) is shared across all MoE layers since expert residency budget
// is a process-wide resource, not a per-layer one.
func buildLayers(cfg *Config, w *Weights, table *dispatch.Table, expertCache *expertcache.Cache, fetch moe.FetchExpert) ([]*layer.Layer, error) {
	var engine *moe.Engine
	if cfg.MoE != nil {
		engine = moe.NewEngine(moe.Config{
			NumExperts:     cfg.MoE.NumExperts,
			NumExpertsUsed: cfg.MoE.NumExpertsUsed,
			HiddenSize:     cfg.HiddenSize,
		}, table, expertCache, fetch)
	}

	layers := make([]*layer.Layer, cfg.NumLayers)
	for i := 0; i < cfg.NumLayers; i++ {
		lw := w.Layers[i]

		l := &layer.Layer{
			Template:    cfg.NormTemplate[i],
			Attention:   lw.Attention,
			FFNPreNorm:  lw.FFNPreNorm,
			FFNPostNorm: lw.FFNPostNorm,
		}

		if cfg.LayerKinds[i].MoE {
			l.FFN = &layer.MoEFFN{Engine: engine, Router: *lw.Router}
		} else {
			l.FFN = &layer.DenseFFN{Weights: *lw.Dense}
		}

		layers[i] = l
	}
	return layers, nil
}
