package layer

import (
	"context"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/kernel"
	"github.com/ollama-fork/gpuinfer/kvcache"
)

// Layer is one transformer block: attention sublayer plus feed-forward
// sublayer, wired together under Template. Grounded on glm4moelite's
// Layer.Forward (model.go) for the pre-norm residual shape; the
// sandwich-norm shape has no pack example and is built from GLOSSARY's
// definition using the same kernel calls.
type Layer struct {
	Template  Template
	Attention AttentionWeights
	FFN       FFN

	// FFNPreNorm is the norm applied to x before the FFN call in both
	// templates (spec.md's w_post_attn in the standard equation, w_pre_ffn
	// in the sandwich one — same role, different spec name). FFNPostNorm
	// additionally normalizes the FFN's output before its residual add,
	// and is set only under TemplateSandwichNorm.
	FFNPreNorm, FFNPostNorm *gpu.Buffer
}

// Forward runs one layer's attention sublayer then feed-forward sublayer
// against x [numTokens, hiddenSize], returning the residual-updated hidden
// states. cosTable/sinTable are this layer's RoPE tables (pipeline.RoPETable
// picks global vs local per layer). The "last position only" prefill
// optimization of spec.md §4.8 is applied by the caller after the final
// layer, on the output-norm/lm-head step, not inside Layer.Forward.
func (l *Layer) Forward(ctx context.Context, rec *gpu.Recorder, table *dispatch.Table, layerIdx int, x, cosTable, sinTable *gpu.Buffer, numTokens, hiddenSize int, p AttentionParams, cache *kvcache.Cache) (*gpu.Buffer, error) {
	switch l.Template {
	case TemplateSandwichNorm:
		return l.forwardSandwich(ctx, rec, table, layerIdx, x, cosTable, sinTable, numTokens, hiddenSize, p, cache)
	default:
		return l.forwardStandard(ctx, rec, table, layerIdx, x, cosTable, sinTable, numTokens, hiddenSize, p, cache)
	}
}

// forwardStandard implements spec.md §4.7's pre-norm residual arrangement:
// x <- x + attn(rmsnorm(x)); x <- x + ffn(rmsnorm(x)).
func (l *Layer) forwardStandard(ctx context.Context, rec *gpu.Recorder, table *dispatch.Table, layerIdx int, x, cosTable, sinTable *gpu.Buffer, numTokens, hiddenSize int, p AttentionParams, cache *kvcache.Cache) (*gpu.Buffer, error) {
	attnOut, err := forwardAttention(rec, table, layerIdx, cache, l.Attention, x, cosTable, sinTable, numTokens, p)
	if err != nil {
		return nil, err
	}
	x, err = kernel.ResidualAdd(rec, x, attnOut, numTokens*hiddenSize, "layer.attn_residual")
	if err != nil {
		return nil, err
	}

	// spec.md calls this norm w_post_attn in the standard template's
	// equation, but functionally it normalizes x going INTO the FFN, not
	// attention's output; it is carried on l.FFNPreNorm rather than
	// l.Attention.PostAttnNorm (which is reserved for the sandwich
	// template's distinct post-attention-output norm) to avoid conflating
	// the two.
	ffnNormed, err := kernel.RMSNorm(rec, table, layerIdx, x, l.FFNPreNorm, numTokens, hiddenSize, p.Eps, "layer.ffn_norm")
	if err != nil {
		return nil, err
	}
	ffnOut, err := l.FFN.Forward(ctx, rec, table, layerIdx, ffnNormed, numTokens, hiddenSize)
	if err != nil {
		return nil, err
	}
	return kernel.ResidualAdd(rec, x, ffnOut, numTokens*hiddenSize, "layer.ffn_residual")
}

// forwardSandwich implements spec.md §4.7's sandwich-norm arrangement:
// x <- x + rmsnorm(attn(rmsnorm(x))); x <- x + rmsnorm(ffn(rmsnorm(x))).
// The extra post-sublayer norms are l.FFNPostNorm for the FFN side and
// l.Attention.PostAttnNorm for the attention side, reusing the same field
// forwardAttention already applies internally after the output projection.
func (l *Layer) forwardSandwich(ctx context.Context, rec *gpu.Recorder, table *dispatch.Table, layerIdx int, x, cosTable, sinTable *gpu.Buffer, numTokens, hiddenSize int, p AttentionParams, cache *kvcache.Cache) (*gpu.Buffer, error) {
	attnOut, err := forwardAttention(rec, table, layerIdx, cache, l.Attention, x, cosTable, sinTable, numTokens, p)
	if err != nil {
		return nil, err
	}
	x, err = kernel.ResidualAdd(rec, x, attnOut, numTokens*hiddenSize, "layer.attn_residual")
	if err != nil {
		return nil, err
	}

	ffnNormed, err := kernel.RMSNorm(rec, table, layerIdx, x, l.FFNPreNorm, numTokens, hiddenSize, p.Eps, "layer.ffn_pre_norm")
	if err != nil {
		return nil, err
	}
	ffnOut, err := l.FFN.Forward(ctx, rec, table, layerIdx, ffnNormed, numTokens, hiddenSize)
	if err != nil {
		return nil, err
	}
	ffnOut, err = kernel.RMSNorm(rec, table, layerIdx, ffnOut, l.FFNPostNorm, numTokens, hiddenSize, p.Eps, "layer.ffn_post_norm")
	if err != nil {
		return nil, err
	}
	return kernel.ResidualAdd(rec, x, ffnOut, numTokens*hiddenSize, "layer.ffn_residual")
}
