// Package bpetokenizer is a reference implementation of adapter.Tokenizer
// using byte-level BPE, the same algorithm family GPT-2/Llama-style models
// use. Grounded on convert/tokenizer_parser.go's Vocabulary/Merges shape
// (merges stored as "tokenA tokenB" strings, parsed from tokenizer.json)
// and x/imagegen/tokenizer/bpe.go's encodeBPEMerge (repeatedly merge the
// lowest-rank adjacent pair until none apply), generalized from that
// package's precomputed single-token fast path into the full chunked
// pretokenize-then-merge pipeline GPT-2 byte-level BPE needs. The
// pretokenizer regex requires lookahead/lookbehind Go's stdlib regexp
// cannot express, hence dlclark/regexp2 — a direct teacher dependency with
// no other caller in this module until this package exercises it.
package bpetokenizer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/ollama-fork/gpuinfer/adapter"
)

// gpt2Pattern is the canonical GPT-2 pretokenizer split: contractions,
// runs of letters, runs of digits, runs of punctuation, and whitespace,
// each optionally prefixed by one leading space.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// Vocab holds the token<->id table and merge ranks a BPE tokenizer needs,
// matching the shape convert.Tokenizer's Vocabulary/Merges parse into.
type Vocab struct {
	TokenToID map[string]int32
	IDToToken map[int32]string
	// MergeRank maps "left right" (the two token strings space-joined, the
	// same key format x/imagegen/tokenizer/bpe.go's Merges map uses) to
	// its merge priority; lower merges first.
	MergeRank map[string]int
}

// Tokenizer is a byte-level BPE tokenizer satisfying adapter.Tokenizer.
type Tokenizer struct {
	vocab   Vocab
	pattern *regexp2.Regexp
	special adapter.SpecialTokens

	byteEncode [256]rune
	byteDecode map[rune]byte
}

// New builds a Tokenizer from a parsed vocabulary and merge table.
func New(vocab Vocab, special adapter.SpecialTokens) *Tokenizer {
	t := &Tokenizer{
		vocab:   vocab,
		pattern: regexp2.MustCompile(gpt2Pattern, regexp2.None),
		special: special,
	}
	t.byteEncode, t.byteDecode = buildByteMaps()
	return t
}

func (t *Tokenizer) SpecialTokens() adapter.SpecialTokens { return t.special }

// Encode splits text into GPT-2 pretokenizer chunks, maps each chunk's
// bytes through the byte-to-unicode table, then BPE-merges each chunk
// independently (merges never cross chunk boundaries, matching the
// teacher's per-chunk encodeBPEMerge calls).
func (t *Tokenizer) Encode(text string) ([]uint32, error) {
	var ids []uint32

	m, err := t.pattern.FindStringMatch(text)
	if err != nil {
		return nil, fmt.Errorf("bpetokenizer: pretokenize: %w", err)
	}
	for m != nil {
		chunkIDs, err := t.encodeChunk(m.String())
		if err != nil {
			return nil, err
		}
		ids = append(ids, chunkIDs...)

		m, err = t.pattern.FindNextMatch(m)
		if err != nil {
			return nil, fmt.Errorf("bpetokenizer: pretokenize: %w", err)
		}
	}
	return ids, nil
}

func (t *Tokenizer) encodeChunk(chunk string) ([]uint32, error) {
	var sb strings.Builder
	sb.Grow(len(chunk) * 2)
	for i := 0; i < len(chunk); i++ {
		sb.WriteRune(t.byteEncode[chunk[i]])
	}
	encoded := sb.String()

	if id, ok := t.vocab.TokenToID[encoded]; ok {
		return []uint32{uint32(id)}, nil
	}

	runes := []rune(encoded)
	parts := make([]string, len(runes))
	for i, r := range runes {
		parts[i] = string(r)
	}

	for len(parts) > 1 {
		bestRank := int(^uint(0) >> 1)
		bestIdx := -1
		for i := 0; i < len(parts)-1; i++ {
			if rank, ok := t.vocab.MergeRank[parts[i]+" "+parts[i+1]]; ok && rank < bestRank {
				bestRank = rank
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		parts[bestIdx] += parts[bestIdx+1]
		parts = append(parts[:bestIdx+1], parts[bestIdx+2:]...)
	}

	ids := make([]uint32, 0, len(parts))
	for _, part := range parts {
		if id, ok := t.vocab.TokenToID[part]; ok {
			ids = append(ids, uint32(id))
			continue
		}
		// Byte fallback: emit each rune's underlying byte's own token, per
		// the teacher's "unknown merge result" handling.
		for _, r := range part {
			if b, ok := t.byteDecode[r]; ok {
				if id, ok := t.vocab.TokenToID[string(t.byteEncode[b])]; ok {
					ids = append(ids, uint32(id))
				}
			}
		}
	}
	return ids, nil
}

// Decode maps ids back to their token strings, reverses the byte-to-
// unicode mapping, and optionally drops special tokens / collapses
// tokenizer-internal whitespace markers (clean).
func (t *Tokenizer) Decode(ids []uint32, skipSpecial, clean bool) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if skipSpecial && t.isSpecial(id) {
			continue
		}
		tok, ok := t.vocab.IDToToken[int32(id)]
		if !ok {
			return "", fmt.Errorf("bpetokenizer: unknown token id %d", id)
		}
		for _, r := range tok {
			if b, ok := t.byteDecode[r]; ok {
				sb.WriteByte(b)
			}
		}
	}
	out := sb.String()
	if clean {
		out = strings.TrimSpace(out)
	}
	return out, nil
}

func (t *Tokenizer) isSpecial(id uint32) bool {
	for _, p := range []*uint32{t.special.BOS, t.special.EOS, t.special.PAD} {
		if p != nil && *p == id {
			return true
		}
	}
	return false
}

// buildByteMaps constructs GPT-2's byte<->unicode mapping: every byte gets
// a dedicated, printable, round-trippable rune, so BPE can operate over
// ordinary Unicode text-processing code instead of raw bytes.
func buildByteMaps() (encode [256]rune, decode map[rune]byte) {
	decode = make(map[rune]byte, 256)

	var bs []int
	for _, r := range [][2]int{{'!', '~'}, {0xA1, 0xAC}, {0xAE, 0xFF}} {
		for b := r[0]; b <= r[1]; b++ {
			bs = append(bs, b)
		}
	}
	assigned := make(map[int]bool, len(bs))
	for _, b := range bs {
		assigned[b] = true
	}

	cs := append([]int{}, bs...)
	n := 0
	for b := 0; b < 256; b++ {
		if !assigned[b] {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	for i, b := range bs {
		r := rune(cs[i])
		encode[b] = r
		decode[r] = byte(b)
	}
	return encode, decode
}
