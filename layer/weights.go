package layer

import "github.com/ollama-fork/gpuinfer/gpu"

// AttentionWeights holds one layer's attention sublayer tensors, grounded
// on deepseek2's Attention struct's field set, generalized from its MLA
// split (QA/QANorm/QB, KVA/KVANorm/KVB, KB/VB) to the plain w_qkv/w_o shape
// spec.md §3 names. QNorm/KNorm are nil when the model weights don't carry
// them (spec.md §4.7's "optional per-head q_norm/k_norm"). PostAttnNorm is
// set only under TemplateSandwichNorm, where it normalizes the attention
// sublayer's output before that residual add; it stays nil under
// TemplateStandard, whose own pre-FFN norm lives on Layer.FFNPreNorm
// instead (spec.md's equation names both "w_post_attn", but they normalize
// different things in the two templates).
type AttentionWeights struct {
	InputNorm    *gpu.Buffer
	WQ, WK, WV   *gpu.Buffer
	WO           *gpu.Buffer
	QNorm, KNorm *gpu.Buffer
	PostAttnNorm *gpu.Buffer
}

// DenseFFNWeights holds a non-MoE layer's feed-forward tensors, grounded on
// dense's Gate/Up/Down field set (mlp.go). WGateUp is non-nil for the fused
// 2-pass path; when nil, WGate/WUp drive the 3-pass path instead.
// DenseFFN.Forward does not read PreFFNNorm/PostFFNNorm; the FFN norms a
// layer applies come from Layer.FFNPreNorm/FFNPostNorm.
type DenseFFNWeights struct {
	PreFFNNorm, PostFFNNorm *gpu.Buffer
	WGateUp                 *gpu.Buffer
	WGate, WUp, WDown       *gpu.Buffer
}
