// tokenizer.go builds an adapter/bpetokenizer.Tokenizer from a vocabulary
// file, grounded on convert/tokenizer_parser.go's tokenizer.model.vocab/
// model.merges shape (the same subset of a HuggingFace tokenizer.json this
// CLI asks a caller to supply standalone, since the manifest format
// spec.md §6.1 defines carries only a vocab_size count, not the table
// itself).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ollama-fork/gpuinfer/adapter"
	"github.com/ollama-fork/gpuinfer/adapter/bpetokenizer"
)

// vocabFile mirrors convert's tokenizer struct: a vocab map and a merges
// list, plus the three special token ids this CLI needs directly (the
// manifest's own eos_token_id list is consulted separately by the caller
// for stop-sequence handling; this file only resolves the tokenizer's own
// view of BOS/EOS/PAD).
type vocabFile struct {
	Model struct {
		Vocab  map[string]int32 `json:"vocab"`
		Merges []string         `json:"merges"`
	} `json:"model"`
	SpecialTokens struct {
		BOS *uint32 `json:"bos"`
		EOS *uint32 `json:"eos"`
		PAD *uint32 `json:"pad"`
	} `json:"special_tokens"`
}

func loadTokenizer(path string) (*bpetokenizer.Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocab file: %w", err)
	}

	var vf vocabFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parsing vocab file: %w", err)
	}
	if len(vf.Model.Vocab) == 0 {
		return nil, fmt.Errorf("vocab file %s has an empty model.vocab table", path)
	}

	idToToken := make(map[int32]string, len(vf.Model.Vocab))
	for tok, id := range vf.Model.Vocab {
		idToToken[id] = tok
	}

	mergeRank := make(map[string]int, len(vf.Model.Merges))
	for i, m := range vf.Model.Merges {
		mergeRank[m] = i
	}

	vocab := bpetokenizer.Vocab{
		TokenToID: vf.Model.Vocab,
		IDToToken: idToToken,
		MergeRank: mergeRank,
	}

	return bpetokenizer.New(vocab, adapter.SpecialTokens{
		BOS: vf.SpecialTokens.BOS,
		EOS: vf.SpecialTokens.EOS,
		PAD: vf.SpecialTokens.PAD,
	}), nil
}
