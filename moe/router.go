package moe

import (
	"encoding/binary"
	"math"

	"github.com/ollama-fork/gpuinfer/gpu"
)

// readRouting reads back the router's top-k index buffer (the one
// host-visible readback this layer needs, per spec.md §5) and expands it
// into a flat per-pair (token, expert) mapping the gather/scatter kernels
// consume. indices is [numTokens, NumExpertsUsed] of u32.
func (e *Engine) readRouting(rec *gpu.Recorder, indices *gpu.Buffer, numTokens int) (pairTokens, pairExperts []int, err error) {
	raw, err := rec.Read(indices, indices.Size())
	if err != nil {
		return nil, nil, err
	}

	topK := e.cfg.NumExpertsUsed
	pairTokens = make([]int, numTokens*topK)
	pairExperts = make([]int, numTokens*topK)

	for tok := 0; tok < numTokens; tok++ {
		for k := 0; k < topK; k++ {
			pair := tok*topK + k
			v := binary.LittleEndian.Uint32(raw[pair*4 : pair*4+4])
			pairTokens[pair] = tok
			pairExperts[pair] = int(v)
		}
	}
	return pairTokens, pairExperts, nil
}

// groupPairsByExpert partitions pair indices by their routed expert, so
// each expert's gather/FFN/scatter runs over its own packed batch.
func groupPairsByExpert(pairExperts []int) map[int][]int {
	byExpert := make(map[int][]int)
	for pair, expert := range pairExperts {
		byExpert[expert] = append(byExpert[expert], pair)
	}
	return byExpert
}

// buildTokenIndexBuffer uploads the source-token index for each pair in
// pairs (in order), for kernel.MoEGather/kernel.ScatterAdd to read.
func (e *Engine) buildTokenIndexBuffer(rec *gpu.Recorder, pairs []int, pairTokens []int) (*gpu.Buffer, error) {
	raw := make([]byte, len(pairs)*4)
	for i, pair := range pairs {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], uint32(pairTokens[pair]))
	}
	return rec.Upload(raw, gpu.DTypeU32, "moe.token_index")
}

// buildWeightBuffer reads back the router's top-k weight buffer and
// re-uploads the subset selected for pairs, in order, since ScatterAdd
// expects one weight per gathered row rather than the full
// [numTokens, NumExpertsUsed] layout the router produced.
func (e *Engine) buildWeightBuffer(rec *gpu.Recorder, pairs []int, weights *gpu.Buffer) (*gpu.Buffer, error) {
	raw, err := rec.Read(weights, weights.Size())
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(pairs)*4)
	for i, pair := range pairs {
		bits := binary.LittleEndian.Uint32(raw[pair*4 : pair*4+4])
		v := math.Float32frombits(bits)
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(v))
	}
	return rec.Upload(out, gpu.DTypeF32, "moe.pair_weights")
}
