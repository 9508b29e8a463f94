package pipeline

import (
	"fmt"

	"github.com/ollama-fork/gpuinfer/fs"
	"github.com/ollama-fork/gpuinfer/gpuerr"
	"github.com/ollama-fork/gpuinfer/layer"
)

// LayerKind tags one layer as dense, MoE-routed, or sliding-window versus
// full attention, per spec.md §3's layer_kinds.
type LayerKind struct {
	MoE     bool
	Sliding bool
}

// MoEConfig mirrors spec.md §3's moe={num_experts E, top_k k_e} model-level
// block.
type MoEConfig struct {
	NumExperts     int
	NumExpertsUsed int
}

// Config is the parsed model configuration M of spec.md §3, resolved from
// a fs.Config manifest into the plain numeric/enum fields every other
// package consumes (layer.AttentionParams, kvcache constructors,
// moe.Config). Grounded on deepseek2's Options (options.go) and New
// (model.go), generalized from one fixed architecture's field set to the
// full manifest-driven shape spec.md §3 commits to.
type Config struct {
	NumLayers        int
	HiddenSize       int
	IntermediateSize int
	NumHeads         int
	NumKVHeads       int
	HeadDim          int
	VocabSize        int
	MaxSeqLen        int

	RopeTheta       float32
	RopeThetaLocal  float32
	RopeScale       float32
	RopeScalingKind string
	RopeBetaFast    float32
	RopeBetaSlow    float32
	RopeOrigCtxLen  int

	RMSEps float32

	TiedEmbeddings      bool
	ScaleEmbeddings     bool
	RMSNormWeightOffset bool

	SlidingWindow        int
	SlidingWindowPattern int

	LayerKinds []LayerKind
	MoE        *MoEConfig

	// NormTemplate is decided by the weight loader from which optional
	// norm tensors a given layer's shard carries (spec.md §3's "optional
	// sandwich norms"), not by any single manifest field; FromManifest
	// defaults every layer to layer.TemplateStandard; the loader overrides
	// per layer once it has inspected the tensor table (see
	// DESIGN.md's Open Question decision for this field).
	NormTemplate []layer.Template
}

// FromManifest resolves a Config from a parsed manifest, validating
// spec.md §3's invariants: h % h_kv = 0, H = h*d, and (if moe present)
// top_k <= E.
func FromManifest(c *fs.Config) (*Config, error) {
	numHeads := c.NumHeads()
	numKVHeads := c.NumKVHeads()
	headDim := c.HeadDim()
	hidden := c.HiddenSize()

	if numHeads == 0 || numKVHeads == 0 {
		return nil, &gpuerr.ConfigError{Field: "attention.head_count", Err: fmt.Errorf("head counts must be nonzero")}
	}
	if numHeads%numKVHeads != 0 {
		return nil, &gpuerr.ConfigError{Field: "attention.head_count_kv", Err: fmt.Errorf("num_heads %d not a multiple of num_kv_heads %d", numHeads, numKVHeads)}
	}
	if hidden != numHeads*headDim {
		return nil, &gpuerr.ConfigError{Field: "hidden_size", Err: fmt.Errorf("hidden_size %d != num_heads %d * head_dim %d", hidden, numHeads, headDim)}
	}

	cfg := &Config{
		NumLayers:            c.NumLayers(),
		HiddenSize:           hidden,
		IntermediateSize:     c.IntermediateSize(),
		NumHeads:             numHeads,
		NumKVHeads:           numKVHeads,
		HeadDim:              headDim,
		VocabSize:            c.VocabSize(),
		MaxSeqLen:            c.MaxSeqLen(),
		RopeTheta:            c.RopeTheta(),
		RopeThetaLocal:       c.RopeThetaLocal(),
		RopeScale:            c.RopeScaleFactor(),
		RopeScalingKind:      c.RopeScalingKind(),
		RopeBetaFast:         c.RopeBetaFast(),
		RopeBetaSlow:         c.RopeBetaSlow(),
		RopeOrigCtxLen:       c.RopeOriginalContextLength(),
		RMSEps:               c.RMSNormEps(),
		ScaleEmbeddings:      c.ScaleEmbeddings(),
		RMSNormWeightOffset:  c.RMSNormWeightOffset(),
		SlidingWindow:        c.SlidingWindow(),
		SlidingWindowPattern: c.SlidingWindowPattern(),
	}

	if c.IsMoE() {
		if c.NumExpertsUsed() > c.NumExperts() {
			return nil, &gpuerr.ConfigError{Field: "experts_per_token", Err: fmt.Errorf("top_k %d exceeds num_experts %d", c.NumExpertsUsed(), c.NumExperts())}
		}
		cfg.MoE = &MoEConfig{NumExperts: c.NumExperts(), NumExpertsUsed: c.NumExpertsUsed()}
	}

	cfg.LayerKinds = deriveLayerKinds(c, cfg)
	cfg.NormTemplate = make([]layer.Template, cfg.NumLayers)

	return cfg, nil
}

// deriveLayerKinds resolves per-layer MoE/sliding flags from layer_types
// when the manifest supplies it, else from the model-level moe flag and
// sliding_window_pattern (spec.md §3: "taken from layer_kinds[l] if
// present, else from model-level moe flag").
func deriveLayerKinds(c *fs.Config, cfg *Config) []LayerKind {
	kinds := make([]LayerKind, cfg.NumLayers)
	types := c.LayerTypes()

	for i := range kinds {
		if i < len(types) {
			switch types[i] {
			case "moe":
				kinds[i].MoE = true
			case "sliding_attention":
				kinds[i].Sliding = true
			}
			continue
		}

		kinds[i].MoE = cfg.MoE != nil
		if cfg.SlidingWindowPattern > 0 {
			kinds[i].Sliding = (i+1)%cfg.SlidingWindowPattern != 0
		}
	}
	return kinds
}
