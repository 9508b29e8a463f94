// Package sampler implements spec.md §4.9's token sampler: repetition
// penalty followed by temperature/top-k/top-p sampling (or argmax when
// temperature is zero). Parameter shape is grounded on
// llama/llama_sampling.go's SamplingParams, reimplemented without cgo
// since the teacher's version shells out to the C++ common_sampler;
// softmax normalization uses gonum.org/v1/gonum/floats, a teacher
// dependency already wired for this purpose.
package sampler

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Params mirrors llama_sampling.go's SamplingParams, narrowed to the
// fields spec.md §4.9's algorithm actually consumes (grammar/min-p/
// typical-p have no pack grounding beyond that cgo struct and are left
// out per the spec's named algorithm).
type Params struct {
	Temperature       float32
	TopK              int
	TopP              float32
	RepetitionPenalty float32
	Seed              uint64
}

// Sampler holds the per-generation random source so repeated calls with
// the same Params.Seed reproduce the same token stream, per spec.md §8's
// "running twice yields identical token streams" determinism property.
type Sampler struct {
	params Params
	rng    *rand.Rand
}

// New constructs a Sampler seeded from params.Seed.
func New(params Params) *Sampler {
	return &Sampler{params: params, rng: rand.New(rand.NewSource(int64(params.Seed)))}
}

// ApplyRepetitionPenalty penalizes ids seen in recentIDs (spec.md's "last
// 100 generated tokens" window is the caller's responsibility to slice;
// this function penalizes exactly the ids it is given): for each
// recently-seen id, logits above zero are divided by penalty, logits at or
// below zero are multiplied by it. A no-op when penalty is 1.
func ApplyRepetitionPenalty(logits []float32, recentIDs []int, penalty float32) {
	if penalty == 1 {
		return
	}
	for _, id := range recentIDs {
		if id < 0 || id >= len(logits) {
			continue
		}
		if logits[id] > 0 {
			logits[id] /= penalty
		} else {
			logits[id] *= penalty
		}
	}
}

// candidate pairs a vocabulary index with its (possibly transformed)
// logit or probability, kept together through the sort/cut/renormalize
// pipeline.
type candidate struct {
	id    int
	value float64
}

// Sample draws one token id from logits per spec.md §4.9: temperature 0
// means argmax (deterministic); otherwise divide by temperature, softmax,
// sort descending, cut to top_k, accumulate probability mass until it
// reaches top_p (ties in the cumulative cut favor the lower index), then
// renormalize and draw uniformly over what remains.
func (s *Sampler) Sample(logits []float32) int {
	if s.params.Temperature == 0 {
		return argmax(logits)
	}

	probs := softmax(logits, s.params.Temperature)

	cands := make([]candidate, len(probs))
	for i, p := range probs {
		cands[i] = candidate{id: i, value: p}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].value != cands[j].value {
			return cands[i].value > cands[j].value
		}
		return cands[i].id < cands[j].id
	})

	if s.params.TopK > 0 && s.params.TopK < len(cands) {
		cands = cands[:s.params.TopK]
	}

	topP := float64(s.params.TopP)
	if topP <= 0 {
		topP = 1
	}
	cut := len(cands)
	if topP < 1 {
		cum := 0.0
		cut = len(cands)
		for i, c := range cands {
			cum += c.value
			if cum >= topP {
				cut = i + 1
				break
			}
		}
	}
	cands = cands[:cut]

	total := 0.0
	for _, c := range cands {
		total += c.value
	}
	if total == 0 {
		return cands[0].id
	}

	draw := s.rng.Float64() * total
	acc := 0.0
	for _, c := range cands {
		acc += c.value
		if draw <= acc {
			return c.id
		}
	}
	return cands[len(cands)-1].id
}

// argmax returns the index of the largest logit, the lower index winning
// ties (spec.md §8's greedy-determinism property).
func argmax(logits []float32) int {
	best := 0
	for i := 1; i < len(logits); i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return best
}

// softmax computes the temperature-scaled softmax of logits as float64
// probabilities, normalizing with gonum/floats.Sum after an exp(x-max)
// stabilization pass.
func softmax(logits []float32, temperature float32) []float64 {
	scaled := make([]float64, len(logits))
	for i, l := range logits {
		scaled[i] = float64(l) / float64(temperature)
	}

	max := floats.Max(scaled)
	for i := range scaled {
		scaled[i] = math.Exp(scaled[i] - max)
	}

	sum := floats.Sum(scaled)
	for i := range scaled {
		scaled[i] /= sum
	}
	return scaled
}
