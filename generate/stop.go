package generate

import "strings"

// stopEvaluator composes spec.md §4.9's OR'd stop conditions: EOS token
// match and multi-char stop-sequence match over the generated text so
// far. The max-token-count condition is enforced by the caller's loop
// bound directly rather than through this evaluator.
type stopEvaluator struct {
	stopSequences []string
	eos           *uint32
}

func newStopEvaluator(stopSequences []string, eos *uint32) *stopEvaluator {
	return &stopEvaluator{stopSequences: stopSequences, eos: eos}
}

func (s *stopEvaluator) isEOS(id uint32) bool {
	return s.eos != nil && *s.eos == id
}

// findStop reports whether text contains one of the configured stop
// sequences, returning the sequence that matched.
func (s *stopEvaluator) findStop(text string) (bool, string) {
	for _, seq := range s.stopSequences {
		if seq != "" && strings.Contains(text, seq) {
			return true, seq
		}
	}
	return false, ""
}
