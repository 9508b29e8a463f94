package fs

import "testing"

const baseManifest = `{
	"architecture": "test-arch",
	"modelId": "test-model",
	"config": {
		"hidden_size": 4096,
		"num_attention_heads": 32,
		"num_hidden_layers": 2,
		"intermediate_size": 11008,
		"vocab_size": 32000,
		"max_position_embeddings": 4096
	},
	"tensors": {}
}`

func TestParseManifestResolvesAliasedFields(t *testing.T) {
	cfg, err := ParseManifest([]byte(baseManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if cfg.HiddenSize() != 4096 {
		t.Fatalf("HiddenSize = %d, want 4096", cfg.HiddenSize())
	}
	if cfg.NumHeads() != 32 {
		t.Fatalf("NumHeads = %d, want 32", cfg.NumHeads())
	}
	if cfg.NumKVHeads() != 32 {
		t.Fatalf("NumKVHeads defaulted to %d, want NumHeads() = 32", cfg.NumKVHeads())
	}
	if cfg.HeadDim() != 128 {
		t.Fatalf("HeadDim = %d, want 4096/32 = 128", cfg.HeadDim())
	}
}

func TestParseManifestAppliesDocumentedDefaults(t *testing.T) {
	cfg, err := ParseManifest([]byte(baseManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if cfg.RopeTheta() != 10000 {
		t.Fatalf("RopeTheta default = %v, want 10000", cfg.RopeTheta())
	}
	if cfg.RMSNormEps() != 1e-5 {
		t.Fatalf("RMSNormEps default = %v, want 1e-5", cfg.RMSNormEps())
	}
	if cfg.Activation() != "silu" {
		t.Fatalf("Activation default = %q, want silu", cfg.Activation())
	}
	if cfg.RopeScalingKind() != "none" {
		t.Fatalf("RopeScalingKind default = %q, want none", cfg.RopeScalingKind())
	}
	if cfg.RopeScaleFactor() != 1 {
		t.Fatalf("RopeScaleFactor default = %v, want 1", cfg.RopeScaleFactor())
	}
	if cfg.IsMoE() {
		t.Fatal("IsMoE should be false when num_experts is absent")
	}
}

func TestParseManifestRejectsMissingHiddenSize(t *testing.T) {
	_, err := ParseManifest([]byte(`{"architecture":"x","config":{"num_attention_heads":4}}`))
	if err == nil {
		t.Fatal("expected error for missing hidden_size")
	}
}

func TestParseManifestRejectsIndivisibleHeadCount(t *testing.T) {
	_, err := ParseManifest([]byte(`{"architecture":"x","config":{"hidden_size":100,"num_attention_heads":7}}`))
	if err == nil {
		t.Fatal("expected error when hidden_size is not divisible by num_attention_heads")
	}
}

func TestAlternateKeySpellingsResolve(t *testing.T) {
	cfg, err := ParseManifest([]byte(`{
		"architecture": "ggml-style",
		"config": {
			"embeddingLength": 2048,
			"attentionHeadCount": 16,
			"attentionHeadCountKV": 4,
			"blockCount": 24,
			"feedForwardLength": 5632,
			"contextLength": 8192
		}
	}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if cfg.HiddenSize() != 2048 || cfg.NumHeads() != 16 || cfg.NumKVHeads() != 4 {
		t.Fatalf("alias resolution failed: hidden=%d heads=%d kvheads=%d", cfg.HiddenSize(), cfg.NumHeads(), cfg.NumKVHeads())
	}
	if cfg.NumLayers() != 24 || cfg.IntermediateSize() != 5632 || cfg.MaxSeqLen() != 8192 {
		t.Fatalf("alias resolution failed: layers=%d intermediate=%d maxseq=%d", cfg.NumLayers(), cfg.IntermediateSize(), cfg.MaxSeqLen())
	}
}
