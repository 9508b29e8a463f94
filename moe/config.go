// Package moe implements the Mixture-of-Experts engine of spec.md §4.6:
// route each token to its top-k experts, gather per-expert batches, run
// each expert's FFN, and scatter-add the weighted results back onto the
// residual stream.
//
// Grounded on model/models/deepseek2/mlp.go's sparse.Forward/sparse.Moe
// (sigmoid router, optional probability bias, renormalized top-k weights,
// routed scaling factor) and its near-identical twin in
// model/models/glm4moelite/mlp.go. Both always-on shared experts there are
// generalized here into an explicit Config.SharedExperts list so a model
// with more than one always-active expert (or none) can still be expressed
// instead of hardcoding exactly one SharedExpert field.
package moe

// Config carries the router and FFN shape parameters of one MoE layer,
// shared across all layers unless the pipeline overrides per layer.
type Config struct {
	NumExperts     int
	NumExpertsUsed int
	HiddenSize     int

	// NormTopKProb renormalizes the selected top-k weights to sum to 1
	// after selection, matching opts.normTopKProb in both teacher MLPs.
	NormTopKProb bool

	// RoutedScalingFactor scales the (possibly renormalized) top-k
	// weights before the weighted expert sum, matching
	// opts.routedScalingFactor.
	RoutedScalingFactor float32

	// UseProbsBias adds a learned per-expert bias to the router scores
	// before top-k selection, matching ExpProbsBias.
	UseProbsBias bool

	// SharedExperts lists expert indices that run for every token
	// regardless of routing and are never evicted from expertcache
	// (generalizes SharedExpert from exactly one to an arbitrary set).
	SharedExperts []int
}
