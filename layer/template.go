// Package layer implements the L4 layer processor of spec.md §4.7: one
// transformer block's attention sublayer and feed-forward sublayer, wired
// together under either the standard pre-norm residual arrangement or the
// sandwich-norm arrangement.
//
// Grounded on model/models/deepseek2/attention.go's Attention.Forward (the
// rmsnorm -> qkv -> rope -> cache -> attention -> output-projection chain,
// generalized here from its MLA-specific q/k splitting to the plain QKV
// shape spec.md names) and model/models/deepseek2/model.go's Layer-less
// pre-norm residual wiring (DeepSeek2's own Layer type was not present in
// the retrieved slice of that package; glm4moelite/model.go's Layer.Forward
// shows the same pre-norm shape and is used for that part instead). The
// sandwich-norm arrangement has no example in the pack (DeepSeek2 and
// GLM4-MoE-Lite are both pre-norm only); it is built from the GLOSSARY
// description using the same kernel building blocks as the pre-norm path.
package layer

// Template selects the residual/normalization arrangement spec.md §4.7
// names for a layer.
type Template int

const (
	// TemplateStandard: x += attn(rmsnorm(x)); x += ffn(rmsnorm(x)).
	TemplateStandard Template = iota
	// TemplateSandwichNorm: x += rmsnorm(attn(rmsnorm(x))); x +=
	// rmsnorm(ffn(rmsnorm(x))), an extra norm applied to each sublayer's
	// output before the residual add.
	TemplateSandwichNorm
)
