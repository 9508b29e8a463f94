// Package fs parses the model manifest of spec.md §6.1: a JSON document
// naming the architecture, a free-form config block (the same field, e.g.
// hidden size, appearing under several possible key spellings depending on
// which converter produced the manifest), a tensor table, and quantization
// metadata.
//
// Grounded on fs/ggml/ggml_kv.go's KV getter idiom: typed accessors with a
// default, tried against ordered alias keys, falling back silently when a
// key is absent (HeadCount vs the multi-key UintOrArrayValue family).
// ParseManifest's JSON decode uses encoding/json directly (stdlib is the
// right tool for a one-shot decode of a provided schema; see DESIGN.md).
package fs

import (
	"encoding/json"
	"fmt"

	"github.com/ollama-fork/gpuinfer/gpuerr"
)

// TensorInfo describes one weight tensor's placement within its shard, per
// spec.md §6.1's tensors table.
type TensorInfo struct {
	Shape             []int  `json:"shape"`
	DType             string `json:"dtype"`
	Shard             int    `json:"shard"`
	Offset            int64  `json:"offset"`
	Size              int64  `json:"size"`
	Layout            string `json:"layout,omitempty"`
	WeightsTransposed bool   `json:"weightsTransposed,omitempty"`
	SliceDim          int    `json:"sliceDim,omitempty"`
	SliceIdx          int    `json:"sliceIdx,omitempty"`
	SliceCount        int    `json:"sliceCount,omitempty"`
}

// ExpertShardRef locates one (layer, expert) pair's weights within the
// shard store, per spec.md §6.1's optional expertShardMap.
type ExpertShardRef struct {
	Shard  int   `json:"shard"`
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// ropeScaling mirrors the manifest's rope_scaling sub-object.
type ropeScaling struct {
	Type                         string  `json:"type"`
	TypeAlt                      string  `json:"rope_type"`
	Factor                       float64 `json:"factor"`
	BetaFast                     float64 `json:"beta_fast"`
	BetaSlow                     float64 `json:"beta_slow"`
	OriginalMaxPositionEmbedding int     `json:"original_max_position_embeddings"`
}

// manifestDoc is the raw JSON shape of spec.md §6.1, decoded once and then
// wrapped by Config's alias-aware accessors. The config sub-object is kept
// as json.RawMessage so its many per-field aliases can be resolved lazily.
type manifestDoc struct {
	Architecture     string                     `json:"architecture"`
	ModelID          string                     `json:"modelId"`
	Config           json.RawMessage            `json:"config"`
	Tensors          map[string]TensorInfo      `json:"tensors"`
	Tokenizer        struct {
		VocabSize int `json:"vocab_size"`
	} `json:"tokenizer"`
	Quantization     string                     `json:"quantization"`
	ExpertShardMap   map[string]ExpertShardRef  `json:"expertShardMap"`
	ShardingStrategy string                     `json:"shardingStrategy"`
}

// Config is the parsed model configuration M of spec.md §3, with its
// multi-aliased fields already resolved.
type Config struct {
	doc    manifestDoc
	raw    map[string]any
	rope   ropeScaling
}

// ParseManifest decodes the manifest JSON of spec.md §6.1 into a Config,
// per the core's "model-file reader/shard loader" external collaborator
// boundary: the core never opens shard files itself, only this manifest.
func ParseManifest(data []byte) (*Config, error) {
	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &gpuerr.ConfigError{Field: "manifest", Err: err}
	}

	c := &Config{doc: doc}
	if len(doc.Config) > 0 {
		if err := json.Unmarshal(doc.Config, &c.raw); err != nil {
			return nil, &gpuerr.ConfigError{Field: "config", Err: err}
		}
		if rs, ok := c.raw["rope_scaling"]; ok {
			b, _ := json.Marshal(rs)
			_ = json.Unmarshal(b, &c.rope)
		}
	}

	if c.HiddenSize() == 0 {
		return nil, &gpuerr.ConfigError{Field: "hidden_size", Err: fmt.Errorf("missing or zero in manifest config")}
	}
	if c.NumHeads() != 0 && c.HiddenSize()%c.NumHeads() != 0 {
		return nil, &gpuerr.ConfigError{Field: "attention.head_count", Err: fmt.Errorf("hidden_size %d not divisible by num_heads %d", c.HiddenSize(), c.NumHeads())}
	}
	return c, nil
}

func (c *Config) str(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := c.raw[k].(string); ok {
			return v, true
		}
	}
	return "", false
}

func (c *Config) num(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := c.raw[k].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

func (c *Config) boolVal(keys ...string) (bool, bool) {
	for _, k := range keys {
		if v, ok := c.raw[k].(bool); ok {
			return v, true
		}
	}
	return false, false
}

func (c *Config) Architecture() string { return c.doc.Architecture }
func (c *Config) ModelID() string      { return c.doc.ModelID }

// HiddenSize resolves hidden_size|n_embd|embeddingLength.
func (c *Config) HiddenSize() int {
	v, _ := c.num("hidden_size", "n_embd", "embeddingLength")
	return int(v)
}

// NumLayers resolves num_hidden_layers|n_layer|blockCount.
func (c *Config) NumLayers() int {
	v, _ := c.num("num_hidden_layers", "n_layer", "blockCount")
	return int(v)
}

// NumHeads resolves num_attention_heads|n_head|attentionHeadCount.
func (c *Config) NumHeads() int {
	v, _ := c.num("num_attention_heads", "n_head", "attentionHeadCount")
	return int(v)
}

// NumKVHeads resolves num_key_value_heads|attentionHeadCountKV, defaulting
// to NumHeads (multi-head attention, no grouping) when absent.
func (c *Config) NumKVHeads() int {
	if v, ok := c.num("num_key_value_heads", "attentionHeadCountKV"); ok {
		return int(v)
	}
	return c.NumHeads()
}

// HeadDim resolves head_dim, defaulting to HiddenSize/NumHeads when absent.
func (c *Config) HeadDim() int {
	if v, ok := c.num("head_dim"); ok {
		return int(v)
	}
	if c.NumHeads() == 0 {
		return 0
	}
	return c.HiddenSize() / c.NumHeads()
}

// IntermediateSize resolves intermediate_size|n_inner|feedForwardLength.
func (c *Config) IntermediateSize() int {
	v, _ := c.num("intermediate_size", "n_inner", "feedForwardLength")
	return int(v)
}

// VocabSize resolves vocab_size, falling back to the tokenizer block's
// vocab_size when the config omits it (spec.md §4.8's "if vocab_size from
// tokenizer exceeds the embedding matrix rows" padding check needs both).
func (c *Config) VocabSize() int {
	if v, ok := c.num("vocab_size"); ok {
		return int(v)
	}
	return c.doc.Tokenizer.VocabSize
}

// MaxSeqLen resolves max_position_embeddings|contextLength.
func (c *Config) MaxSeqLen() int {
	v, _ := c.num("max_position_embeddings", "contextLength")
	return int(v)
}

// RopeTheta resolves rope_theta|ropeFreqBase, defaulting to 10000 (the
// near-universal RoPE base absent an explicit override).
func (c *Config) RopeTheta() float32 {
	v, ok := c.num("rope_theta", "ropeFreqBase")
	if !ok {
		return 10000
	}
	return float32(v)
}

// RopeThetaLocal resolves rope_local_base_freq for models with a dual
// global/local RoPE table (sliding-window layers use a shorter-range
// base). Zero means "use RopeTheta for every layer."
func (c *Config) RopeThetaLocal() float32 {
	v, _ := c.num("rope_local_base_freq")
	return float32(v)
}

// RopeScalingKind reports none|linear|yarn per spec.md §3's rope_scaling_kind.
func (c *Config) RopeScalingKind() string {
	switch c.rope.Type {
	case "linear", "yarn":
		return c.rope.Type
	}
	switch c.rope.TypeAlt {
	case "linear", "yarn":
		return c.rope.TypeAlt
	}
	return "none"
}

func (c *Config) RopeScaleFactor() float32 {
	if c.rope.Factor == 0 {
		return 1
	}
	return float32(c.rope.Factor)
}

func (c *Config) RopeBetaFast() float32 { return float32(c.rope.BetaFast) }
func (c *Config) RopeBetaSlow() float32 { return float32(c.rope.BetaSlow) }

// RopeOriginalContextLength resolves original_max_position_embeddings,
// defaulting to MaxSeqLen when absent (no scaling beyond the trained
// window).
func (c *Config) RopeOriginalContextLength() int {
	if c.rope.OriginalMaxPositionEmbedding != 0 {
		return c.rope.OriginalMaxPositionEmbedding
	}
	return c.MaxSeqLen()
}

// RMSNormEps resolves rms_norm_eps, defaulting to 1e-5.
func (c *Config) RMSNormEps() float32 {
	v, ok := c.num("rms_norm_eps")
	if !ok {
		return 1e-5
	}
	return float32(v)
}

// Activation resolves hidden_activation|hidden_act, defaulting to "silu".
func (c *Config) Activation() string {
	v, ok := c.str("hidden_activation", "hidden_act")
	if !ok {
		return "silu"
	}
	return v
}

func (c *Config) SlidingWindow() int {
	v, _ := c.num("sliding_window")
	return int(v)
}

func (c *Config) SlidingWindowPattern() int {
	v, _ := c.num("sliding_window_pattern")
	return int(v)
}

// LayerTypes resolves layer_types, one of "full_attention"|
// "sliding_attention"|"moe" per layer. Empty when the manifest omits it,
// in which case the caller derives layer kinds from SlidingWindowPattern
// and the model-level MoE fields instead.
func (c *Config) LayerTypes() []string {
	v, ok := c.raw["layer_types"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v))
	for _, e := range v {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) NumExperts() int {
	v, _ := c.num("num_local_experts", "num_experts")
	return int(v)
}

func (c *Config) NumExpertsUsed() int {
	v, _ := c.num("experts_per_token", "num_experts_per_tok", "top_k")
	return int(v)
}

func (c *Config) AttentionBias() bool {
	v, _ := c.boolVal("attention_bias")
	return v
}

func (c *Config) ScaleEmbeddings() bool {
	v, _ := c.boolVal("scale_embeddings")
	return v
}

func (c *Config) RMSNormWeightOffset() bool {
	v, _ := c.boolVal("rms_norm_weight_offset")
	return v
}

func (c *Config) Quantization() string         { return c.doc.Quantization }
func (c *Config) ShardingStrategy() string     { return c.doc.ShardingStrategy }
func (c *Config) Tensors() map[string]TensorInfo { return c.doc.Tensors }
func (c *Config) ExpertShard(layer, expert int) (ExpertShardRef, bool) {
	ref, ok := c.doc.ExpertShardMap[fmt.Sprintf("layer_%d_expert_%d", layer, expert)]
	return ref, ok
}

// IsMoE reports whether the model has any routed-expert layers at all.
func (c *Config) IsMoE() bool {
	return c.NumExperts() > 0
}

// EOSTokenIDs resolves eos_token_id, which the manifest may spell as
// either a single int or an int array.
func (c *Config) EOSTokenIDs() []int {
	switch v := c.raw["eos_token_id"].(type) {
	case float64:
		return []int{int(v)}
	case []any:
		out := make([]int, 0, len(v))
		for _, e := range v {
			if f, ok := e.(float64); ok {
				out = append(out, int(f))
			}
		}
		return out
	default:
		return nil
	}
}
