package pipeline

import (
	"testing"

	"github.com/ollama-fork/gpuinfer/fs"
)

func mustParse(t *testing.T, doc string) *fs.Config {
	t.Helper()
	c, err := fs.ParseManifest([]byte(doc))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	return c
}

func TestFromManifestResolvesDenseConfig(t *testing.T) {
	doc := `{
		"architecture": "dense-test",
		"config": {
			"hidden_size": 4096,
			"num_attention_heads": 32,
			"num_key_value_heads": 8,
			"num_hidden_layers": 4,
			"intermediate_size": 11008,
			"vocab_size": 32000,
			"max_position_embeddings": 4096
		}
	}`
	cfg, err := FromManifest(mustParse(t, doc))
	if err != nil {
		t.Fatalf("FromManifest: %v", err)
	}
	if cfg.NumLayers != 4 || cfg.HiddenSize != 4096 || cfg.NumKVHeads != 8 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.MoE != nil {
		t.Fatal("dense model should have nil MoE config")
	}
	if len(cfg.LayerKinds) != 4 {
		t.Fatalf("LayerKinds length = %d, want 4", len(cfg.LayerKinds))
	}
	for i, k := range cfg.LayerKinds {
		if k.MoE || k.Sliding {
			t.Fatalf("layer %d: expected dense non-sliding, got %+v", i, k)
		}
	}
	if len(cfg.NormTemplate) != 4 {
		t.Fatalf("NormTemplate length = %d, want 4", len(cfg.NormTemplate))
	}
}

func TestFromManifestRejectsHeadCountNotDivisible(t *testing.T) {
	doc := `{"config":{"hidden_size":4096,"num_attention_heads":32,"num_key_value_heads":9}}`
	if _, err := FromManifest(mustParse(t, doc)); err == nil {
		t.Fatal("expected error: 32 heads not a multiple of 9 kv heads")
	}
}

func TestFromManifestRejectsTopKExceedingExperts(t *testing.T) {
	doc := `{
		"config": {
			"hidden_size": 4096,
			"num_attention_heads": 32,
			"num_hidden_layers": 1,
			"num_local_experts": 4,
			"experts_per_token": 8
		}
	}`
	if _, err := FromManifest(mustParse(t, doc)); err == nil {
		t.Fatal("expected error: top_k 8 exceeds num_experts 4")
	}
}

func TestFromManifestDerivesMoEConfig(t *testing.T) {
	doc := `{
		"config": {
			"hidden_size": 4096,
			"num_attention_heads": 32,
			"num_hidden_layers": 2,
			"num_local_experts": 8,
			"experts_per_token": 2
		}
	}`
	cfg, err := FromManifest(mustParse(t, doc))
	if err != nil {
		t.Fatalf("FromManifest: %v", err)
	}
	if cfg.MoE == nil {
		t.Fatal("expected non-nil MoE config")
	}
	if cfg.MoE.NumExperts != 8 || cfg.MoE.NumExpertsUsed != 2 {
		t.Fatalf("unexpected MoE config: %+v", cfg.MoE)
	}
	for i, k := range cfg.LayerKinds {
		if !k.MoE {
			t.Fatalf("layer %d: expected MoE (no layer_types override, model-level moe present), got %+v", i, k)
		}
	}
}

func TestFromManifestHonorsExplicitLayerTypes(t *testing.T) {
	doc := `{
		"config": {
			"hidden_size": 4096,
			"num_attention_heads": 32,
			"num_hidden_layers": 3,
			"num_local_experts": 8,
			"experts_per_token": 2,
			"layer_types": ["full_attention", "moe", "sliding_attention"]
		}
	}`
	cfg, err := FromManifest(mustParse(t, doc))
	if err != nil {
		t.Fatalf("FromManifest: %v", err)
	}
	want := []LayerKind{{}, {MoE: true}, {Sliding: true}}
	for i, k := range cfg.LayerKinds {
		if k != want[i] {
			t.Fatalf("layer %d = %+v, want %+v", i, k, want[i])
		}
	}
}
