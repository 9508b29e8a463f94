// selftest.go builds a tiny hand-constructed model against gpu/fakedevice,
// the same construction pipeline_test.go's buildTinyModel uses, so the CLI
// has a mode that exercises the full cobra -> generate -> pipeline ->
// sampler -> adapter/bpetokenizer stack without requiring real model files
// on disk — there is no concrete on-disk weight format to point it at by
// default since adapter.ShardLoader intentionally has no reference
// implementation upstream of this CLI (see DESIGN.md).
package main

import (
	"encoding/binary"
	"math"

	"github.com/ollama-fork/gpuinfer/adapter"
	"github.com/ollama-fork/gpuinfer/adapter/bpetokenizer"
	"github.com/ollama-fork/gpuinfer/gpu"
	_ "github.com/ollama-fork/gpuinfer/gpu/fakedevice"
	"github.com/ollama-fork/gpuinfer/layer"
	"github.com/ollama-fork/gpuinfer/pipeline"
)

// selftestVocab must match buildSelftestTokenizer's word count exactly:
// every id the sampler can produce needs a vocab entry, or Decode errors
// mid-stream.
const (
	selftestHidden = 8
	selftestVocab  = 4
)

func f32Bytes(vals []float32) []byte {
	b := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func ones(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func identity(n int) []float32 {
	v := make([]float32, n*n)
	for i := 0; i < n; i++ {
		v[i*n+i] = 1
	}
	return v
}

func uploadSelftestBuf(dev *gpu.Device, vals []float32, label string) (*gpu.Buffer, error) {
	data := f32Bytes(vals)
	b, err := dev.Pool().Acquire(int64(len(data)), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}
	if err := dev.Pool().Upload(b, data); err != nil {
		return nil, err
	}
	return b, nil
}

// buildSelftestModel assembles a 1-layer, dense, non-sliding model with
// identity projection matrices and all-ones norm weights on the "fake"
// backend, so its only nonlinear steps are RMSNorm, RoPE, attention and
// the FFN's SiLU gate.
func buildSelftestModel() (*pipeline.Model, error) {
	dev, err := gpu.NewDevice("fake", nil)
	if err != nil {
		return nil, err
	}

	cfg := &pipeline.Config{
		NumLayers:       1,
		HiddenSize:      selftestHidden,
		NumHeads:        2,
		NumKVHeads:      2,
		HeadDim:         4,
		VocabSize:       selftestVocab,
		MaxSeqLen:       32,
		RopeTheta:       10000,
		RopeScale:       1,
		RopeScalingKind: "none",
		RopeOrigCtxLen:  32,
		RMSEps:          1e-6,
		TiedEmbeddings:  true,
		LayerKinds:      []pipeline.LayerKind{{}},
		NormTemplate:    []layer.Template{layer.TemplateStandard},
	}

	embedVals := make([]float32, selftestVocab*selftestHidden)
	for i := range embedVals {
		embedVals[i] = float32(i%7) * 0.05
	}
	embed, err := uploadSelftestBuf(dev, embedVals, "embed")
	if err != nil {
		return nil, err
	}
	outNorm, err := uploadSelftestBuf(dev, ones(selftestHidden), "out_norm")
	if err != nil {
		return nil, err
	}

	attnInNorm, err := uploadSelftestBuf(dev, ones(selftestHidden), "attn.in_norm")
	if err != nil {
		return nil, err
	}
	wq, err := uploadSelftestBuf(dev, identity(selftestHidden), "attn.wq")
	if err != nil {
		return nil, err
	}
	wk, err := uploadSelftestBuf(dev, identity(selftestHidden), "attn.wk")
	if err != nil {
		return nil, err
	}
	wv, err := uploadSelftestBuf(dev, identity(selftestHidden), "attn.wv")
	if err != nil {
		return nil, err
	}
	wo, err := uploadSelftestBuf(dev, identity(selftestHidden), "attn.wo")
	if err != nil {
		return nil, err
	}
	ffnPreNorm, err := uploadSelftestBuf(dev, ones(selftestHidden), "ffn.pre_norm")
	if err != nil {
		return nil, err
	}
	gate, err := uploadSelftestBuf(dev, identity(selftestHidden), "ffn.gate")
	if err != nil {
		return nil, err
	}
	up, err := uploadSelftestBuf(dev, identity(selftestHidden), "ffn.up")
	if err != nil {
		return nil, err
	}
	down, err := uploadSelftestBuf(dev, identity(selftestHidden), "ffn.down")
	if err != nil {
		return nil, err
	}

	w := &pipeline.Weights{
		EmbedTokens: embed,
		OutputNorm:  outNorm,
		Layers: []pipeline.LayerWeights{
			{
				Attention: layer.AttentionWeights{
					InputNorm: attnInNorm,
					WQ:        wq,
					WK:        wk,
					WV:        wv,
					WO:        wo,
				},
				FFNPreNorm: ffnPreNorm,
				Dense: &layer.DenseFFNWeights{
					WGate: gate,
					WUp:   up,
					WDown: down,
				},
			},
		},
	}

	return pipeline.NewModel(dev, cfg, w, nil, nil, nil)
}

// buildSelftestTokenizer builds a tiny whole-word vocabulary covering the
// selftest prompt ("hello"), with no merges (every token is already a
// single vocab entry, so Encode's BPE merge loop is a no-op pass-through).
// Every word is plain printable ASCII with no leading space, since GPT-2's
// byte-to-unicode table (buildByteMaps) maps '!'..'~' to themselves but
// remaps space and control bytes to codepoints above 255 — using only that
// identity range keeps this file readable without hand-deriving the table.
func buildSelftestTokenizer() *bpetokenizer.Tokenizer {
	words := []string{"hello", "world", "!", "<pad>"}
	vocab := bpetokenizer.Vocab{
		TokenToID: make(map[string]int32, len(words)),
		IDToToken: make(map[int32]string, len(words)),
		MergeRank: map[string]int{},
	}
	for i, w := range words {
		vocab.TokenToID[w] = int32(i)
		vocab.IDToToken[int32(i)] = w
	}
	pad := uint32(3)
	return bpetokenizer.New(vocab, adapter.SpecialTokens{PAD: &pad})
}

// selftestPrompt is the default prompt the selftest subcommand encodes.
// The GPT-2 pretokenizer groups one contiguous run of letters into a
// single chunk, so "hello" matches its vocab entry exactly and Encode
// never falls through to the byte-fallback path.
const selftestPrompt = "hello"
