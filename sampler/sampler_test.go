package sampler

import "testing"

func TestSampleZeroTemperatureIsArgmax(t *testing.T) {
	logits := []float32{0.1, 5.0, -2.0, 5.0, 3.0}
	s := New(Params{Temperature: 0})
	got := s.Sample(logits)
	if got != 1 {
		t.Fatalf("Sample() = %d, want 1 (first of the tied maxima)", got)
	}
}

func TestSampleZeroTemperatureIsDeterministicAcrossCalls(t *testing.T) {
	logits := []float32{1, 2, 3, 10, 4}
	s1 := New(Params{Temperature: 0})
	s2 := New(Params{Temperature: 0, Seed: 42})
	if s1.Sample(logits) != s2.Sample(logits) {
		t.Fatal("argmax must not depend on seed")
	}
}

func TestApplyRepetitionPenaltyDividesPositiveMultipliesNonPositive(t *testing.T) {
	logits := []float32{2.0, -2.0, 0.0}
	ApplyRepetitionPenalty(logits, []int{0, 1, 2}, 2.0)
	if logits[0] != 1.0 {
		t.Fatalf("positive logit: got %v, want 1.0 (divided)", logits[0])
	}
	if logits[1] != -4.0 {
		t.Fatalf("negative logit: got %v, want -4.0 (multiplied)", logits[1])
	}
	if logits[2] != 0.0 {
		t.Fatalf("zero logit: got %v, want 0.0 (multiplied by penalty is still 0)", logits[2])
	}
}

func TestApplyRepetitionPenaltyNoOpAtOne(t *testing.T) {
	logits := []float32{2.0, -2.0}
	ApplyRepetitionPenalty(logits, []int{0, 1}, 1.0)
	if logits[0] != 2.0 || logits[1] != -2.0 {
		t.Fatalf("penalty=1 must be a no-op, got %v", logits)
	}
}

func TestSampleTopKRestrictsToHighestLogits(t *testing.T) {
	// Only index 3 has any meaningful mass once top_k=1 is applied.
	logits := []float32{-10, -10, -10, 10, -10}
	s := New(Params{Temperature: 1, TopK: 1, TopP: 1, Seed: 7})
	for i := 0; i < 20; i++ {
		if got := s.Sample(logits); got != 3 {
			t.Fatalf("Sample() = %d, want 3 with top_k=1", got)
		}
	}
}

func TestSampleStaysWithinVocabRange(t *testing.T) {
	logits := make([]float32, 50)
	for i := range logits {
		logits[i] = float32(i)
	}
	s := New(Params{Temperature: 0.8, TopK: 40, TopP: 0.9, Seed: 123})
	for i := 0; i < 100; i++ {
		got := s.Sample(logits)
		if got < 0 || got >= len(logits) {
			t.Fatalf("Sample() returned out-of-range id %d", got)
		}
	}
}
