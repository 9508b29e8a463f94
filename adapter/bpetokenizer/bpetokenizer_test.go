package bpetokenizer

import (
	"testing"

	"github.com/ollama-fork/gpuinfer/adapter"
)

// buildTinyVocab constructs a minimal byte-level vocabulary covering the
// ASCII letters used in the tests below, one token per byte, plus a
// handful of merges so "hi" round-trips through more than one BPE step.
func buildTinyVocab() Vocab {
	encode, _ := buildByteMaps()

	tokenToID := make(map[string]int32)
	idToToken := make(map[int32]string)
	var id int32
	for b := 0; b < 256; b++ {
		tok := string(encode[b])
		tokenToID[tok] = id
		idToToken[id] = tok
		id++
	}

	h := string(encode['h'])
	i := string(encode['i'])
	hi := h + i
	tokenToID[hi] = id
	idToToken[id] = hi
	id++

	return Vocab{
		TokenToID: tokenToID,
		IDToToken: idToToken,
		MergeRank: map[string]int{h + " " + i: 0},
	}
}

func TestEncodeMergesKnownPair(t *testing.T) {
	tok := New(buildTinyVocab(), adapter.SpecialTokens{})
	ids, err := tok.Encode("hi")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("Encode(\"hi\") = %v, want a single merged token", ids)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok := New(buildTinyVocab(), adapter.SpecialTokens{})
	ids, err := tok.Encode("hi")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := tok.Decode(ids, false, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != "hi" {
		t.Fatalf("round trip = %q, want %q", out, "hi")
	}
}

func TestDecodeSkipsSpecialTokens(t *testing.T) {
	vocab := buildTinyVocab()
	eos := uint32(len(vocab.IDToToken))
	vocab.TokenToID["<eos>"] = int32(eos)
	vocab.IDToToken[int32(eos)] = "<eos>"

	tok := New(vocab, adapter.SpecialTokens{EOS: &eos})

	ids, err := tok.Encode("hi")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ids = append(ids, eos)

	out, err := tok.Decode(ids, true, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != "hi" {
		t.Fatalf("Decode with skipSpecial = %q, want %q (eos dropped)", out, "hi")
	}
}
