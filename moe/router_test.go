package moe

import "testing"

func TestTokenCountsSumToTK(t *testing.T) {
	numTokens, topK := 5, 2
	pairExperts := []int{0, 3, 1, 3, 2, 2, 0, 1, 3, 3}
	if len(pairExperts) != numTokens*topK {
		t.Fatalf("test fixture malformed: got %d pairs, want %d", len(pairExperts), numTokens*topK)
	}

	byExpert := groupPairsByExpert(pairExperts)

	total := 0
	for _, pairs := range byExpert {
		total += len(pairs)
	}
	if total != numTokens*topK {
		t.Fatalf("sum of per-expert pair counts = %d, want %d", total, numTokens*topK)
	}
}

func TestScatterAddWeighting(t *testing.T) {
	// A pair's contribution is scaled by its router weight before being
	// added to the token's output row. This restates that weighting
	// (weight * expert_output) on host values; it calls no package code,
	// so ScatterAdd itself is not exercised here.
	expertOut := []float32{1, 2, 3, 4}
	weight := float32(0.5)

	got := make([]float32, len(expertOut))
	for i, v := range expertOut {
		got[i] = v * weight
	}

	want := []float32{0.5, 1, 1.5, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scatter_add weighting[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
