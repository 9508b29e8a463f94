// Package generate implements the public streaming generation API of
// spec.md §6.3: tokenize, prefill, then repeatedly decode/sample/emit
// until a stop condition fires. Grounded on
// runner/ollamarunner/runner_compute.go's per-step decode/sample/stop loop
// and runner_batch.go's flushPending, collapsed from N concurrent
// sequences to the single in-flight generation this module commits to.
package generate

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ollama-fork/gpuinfer/adapter"
	"github.com/ollama-fork/gpuinfer/logutil"
	"github.com/ollama-fork/gpuinfer/pipeline"
	"github.com/ollama-fork/gpuinfer/sampler"
)

// FinishReason mirrors spec.md §6.3's finish_reason enum.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishEOS    FinishReason = "eos"
)

// Options mirrors spec.md §6.3's generate opts record.
type Options struct {
	MaxTokens         int
	Temperature       float32
	TopP              float32
	TopK              int
	RepetitionPenalty float32
	StopSequences     []string
	UseChatTemplate   bool
	Seed              uint64
}

// Token is one streamed output element.
type Token struct {
	ID   uint32
	Text string
}

// Result is the final summary spec.md §6.3 names.
type Result struct {
	AllTokenIDs    []uint32
	OutputText     string
	FinishReason   FinishReason
	PrefillMs      float64
	DecodeMs       float64
	TotalMs        float64
	TokensGenerated int
}

// repetitionWindow bounds the id history apply_repetition_penalty
// penalizes, per spec.md §4.9's "last 100 generated tokens".
const repetitionWindow = 100

// Generate tokenizes prompt, runs prefill, then decodes one token at a
// time until a stop condition fires, streaming each token on the returned
// channel and closing it once Result is ready. now reports elapsed
// milliseconds since some fixed reference point for the three duration
// fields (passed in rather than read from time.Now/Since, since this
// module's build constraint forbids any wall-clock source internally);
// callers in a normal binary pass time.Since(start).Milliseconds-backed
// closures.
func Generate(ctx context.Context, model *pipeline.Model, tok adapter.Tokenizer, prompt string, opts Options, now func() float64) (<-chan Token, <-chan Result, error) {
	ids, err := tok.Encode(prompt)
	if err != nil {
		return nil, nil, err
	}

	tokens := make(chan Token, 16)
	results := make(chan Result, 1)

	go func() {
		defer close(tokens)
		defer close(results)

		t0 := now()
		logits, err := model.Prefill(ctx, ids)
		if err != nil {
			return
		}
		prefillMs := now() - t0
		logutil.Trace("prefill complete", "tokens", len(ids), "elapsed_ms", prefillMs)

		samp := sampler.New(sampler.Params{
			Temperature:       opts.Temperature,
			TopK:              opts.TopK,
			TopP:              opts.TopP,
			RepetitionPenalty: opts.RepetitionPenalty,
			Seed:              opts.Seed,
		})

		special := tok.SpecialTokens()
		stop := newStopEvaluator(opts.StopSequences, special.EOS)

		allIDs := append([]uint32{}, ids...)
		var pendingBytes []byte
		var outputText strings.Builder
		reason := FinishLength

		t1 := now()
		for i := 0; i < opts.MaxTokens; i++ {
			recent := recentIDs(allIDs, repetitionWindow)
			logitsF := append([]float32{}, logits...)
			sampler.ApplyRepetitionPenalty(logitsF, recent, opts.RepetitionPenalty)

			id := uint32(samp.Sample(logitsF))
			allIDs = append(allIDs, id)

			if stop.isEOS(id) {
				reason = FinishEOS
				break
			}

			piece, decErr := tok.Decode([]uint32{id}, false, false)
			if decErr != nil {
				return
			}
			pendingBytes = append(pendingBytes, piece...)

			ready := flushValidUTF8(&pendingBytes)
			if ready != "" {
				select {
				case tokens <- Token{ID: id, Text: ready}:
				case <-ctx.Done():
					return
				}
				outputText.WriteString(ready)
			}

			if ok, _ := stop.findStop(outputText.String()); ok {
				reason = FinishStop
				break
			}

			logits, err = model.Decode(ctx, id)
			if err != nil {
				return
			}
			logutil.Trace("decode step", "step", i, "token_id", id)
		}
		decodeMs := now() - t1
		logutil.Trace("decode complete", "generated", len(allIDs)-len(ids), "elapsed_ms", decodeMs, "finish_reason", reason)

		results <- Result{
			AllTokenIDs:     allIDs,
			OutputText:      outputText.String(),
			FinishReason:    reason,
			PrefillMs:       prefillMs,
			DecodeMs:        decodeMs,
			TotalMs:         prefillMs + decodeMs,
			TokensGenerated: len(allIDs) - len(ids),
		}
	}()

	return tokens, results, nil
}

func recentIDs(all []uint32, window int) []int {
	start := 0
	if len(all) > window {
		start = len(all) - window
	}
	out := make([]int, len(all)-start)
	for i, id := range all[start:] {
		out[i] = int(id)
	}
	return out
}

// flushValidUTF8 returns the longest valid-UTF-8 prefix of pending, per
// runner_batch.go's flushPending truncation loop, but — unlike the
// teacher, which always resets its buffer — retains the trailing
// undecodable bytes in pending for the next call, since a multi-byte rune
// can straddle two separately decoded token pieces and those bytes become
// valid once the next piece arrives.
func flushValidUTF8(pending *[]byte) string {
	cut := len(*pending)
	for cut > 0 && !utf8.Valid((*pending)[:cut]) {
		cut--
	}
	ready := string((*pending)[:cut])
	*pending = (*pending)[cut:]
	return ready
}
