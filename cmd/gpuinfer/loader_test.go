package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ollama-fork/gpuinfer/fs"
	"github.com/ollama-fork/gpuinfer/gpu"
	_ "github.com/ollama-fork/gpuinfer/gpu/fakedevice"
	"github.com/ollama-fork/gpuinfer/pipeline"
)

func TestParseDType(t *testing.T) {
	cases := map[string]gpu.DType{
		"f32":   gpu.DTypeF32,
		"f16":   gpu.DTypeF16,
		"u32":   gpu.DTypeU32,
		"q4_k":  gpu.DTypeU8Q4K,
		"mxfp4": gpu.DTypeU8MXFP4,
	}
	for s, want := range cases {
		got, err := parseDType(s)
		if err != nil {
			t.Fatalf("parseDType(%q): %v", s, err)
		}
		if got != want {
			t.Fatalf("parseDType(%q) = %v, want %v", s, got, want)
		}
	}

	if _, err := parseDType("bogus"); err == nil {
		t.Fatalf("parseDType(bogus) should error")
	}
}

// shardBuilder accumulates one shard's bytes. Its write method appends vals
// as f32 little-endian bytes and returns the TensorInfo describing their
// placement, mirroring how a real converter would pack a manifest's tensor
// table.
type shardBuilder struct {
	data []byte
}

func (b *shardBuilder) write(vals []float32) fs.TensorInfo {
	off := int64(len(b.data))
	buf := f32Bytes(vals)
	b.data = append(b.data, buf...)
	return fs.TensorInfo{DType: "f32", Shard: 0, Offset: off, Size: int64(len(buf))}
}

func buildTestManifest(t *testing.T) (*fs.Config, string) {
	t.Helper()
	const hidden = 4
	const vocab = 3

	var sb shardBuilder
	tensors := map[string]fs.TensorInfo{
		"token_embd.weight": sb.write([]float32{
			0.1, 0.2, 0.3, 0.4,
			0.5, 0.6, 0.7, 0.8,
			-0.1, -0.2, -0.3, -0.4,
		}),
		"output_norm.weight":         sb.write(ones(hidden)),
		"blk.0.attn_norm.weight":     sb.write(ones(hidden)),
		"blk.0.attn_q.weight":        sb.write(identity(hidden)),
		"blk.0.attn_k.weight":        sb.write(identity(hidden)),
		"blk.0.attn_v.weight":        sb.write(identity(hidden)),
		"blk.0.attn_output.weight":   sb.write(identity(hidden)),
		"blk.0.ffn_norm.weight":      sb.write(ones(hidden)),
		"blk.0.ffn_gate.weight":      sb.write(identity(hidden)),
		"blk.0.ffn_up.weight":        sb.write(identity(hidden)),
		"blk.0.ffn_down.weight":      sb.write(identity(hidden)),
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "shard0.bin"), sb.data, 0o644); err != nil {
		t.Fatalf("write shard0.bin: %v", err)
	}

	doc := map[string]any{
		"architecture": "test",
		"modelId":      "test",
		"config": map[string]any{
			"hidden_size":             hidden,
			"num_attention_heads":     2,
			"num_key_value_heads":     2,
			"head_dim":                2,
			"num_hidden_layers":       1,
			"intermediate_size":       hidden,
			"vocab_size":              vocab,
			"max_position_embeddings": 8,
		},
		"tensors": tensors,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	cfg, err := fs.ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	return cfg, dir
}

func TestLoadWeightsBuildsRunnableModel(t *testing.T) {
	fsCfg, dir := buildTestManifest(t)

	pcfg, err := pipeline.FromManifest(fsCfg)
	if err != nil {
		t.Fatalf("FromManifest: %v", err)
	}

	dev, err := gpu.NewDevice("fake", nil)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}

	shards := newLocalShardLoader(dir)
	weights, err := LoadWeights(dev, fsCfg, pcfg, shards)
	if err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if !pcfg.TiedEmbeddings {
		t.Fatalf("TiedEmbeddings = false, want true (manifest carries no dedicated output tensor)")
	}

	model, err := pipeline.NewModel(dev, pcfg, weights, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	logits, err := model.Prefill(context.Background(), []uint32{0, 1})
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if len(logits) != pcfg.VocabSize {
		t.Fatalf("logits len = %d, want %d", len(logits), pcfg.VocabSize)
	}
}

func TestLoadWeightsMissingShardFileErrors(t *testing.T) {
	fsCfg, dir := buildTestManifest(t)
	pcfg, err := pipeline.FromManifest(fsCfg)
	if err != nil {
		t.Fatalf("FromManifest: %v", err)
	}

	// Delete the shard file so every tensor lookup fails at read time
	// instead of merely being absent from the table, exercising the
	// adapter-error path LoadShard itself returns.
	if err := os.Remove(filepath.Join(dir, "shard0.bin")); err != nil {
		t.Fatalf("remove shard0.bin: %v", err)
	}

	dev, err := gpu.NewDevice("fake", nil)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}

	shards := newLocalShardLoader(dir)
	if _, err := LoadWeights(dev, fsCfg, pcfg, shards); err == nil {
		t.Fatalf("LoadWeights with missing shard file should error")
	}
}
