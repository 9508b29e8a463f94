package pipeline

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/ollama-fork/gpuinfer/gpu"
	_ "github.com/ollama-fork/gpuinfer/gpu/fakedevice"
	"github.com/ollama-fork/gpuinfer/layer"
)

func f32Bytes(vals []float32) []byte {
	b := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func uploadBuf(t *testing.T, dev *gpu.Device, vals []float32, label string) *gpu.Buffer {
	t.Helper()
	data := f32Bytes(vals)
	b, err := dev.Pool().Acquire(int64(len(data)), gpu.DTypeF32, label)
	if err != nil {
		t.Fatalf("Acquire %s: %v", label, err)
	}
	if err := dev.Pool().Upload(b, data); err != nil {
		t.Fatalf("Upload %s: %v", label, err)
	}
	return b
}

// ones returns a flat [rows*cols] vector of 1s, used for norm weights so
// RMSNorm's scale factor is the identity.
func ones(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// identity returns a flat [n,n] row-major identity matrix, used as a
// Matmul "b" operand ([n,k] convention) so the projection is a passthrough
// and the test can reason about what RMSNorm/RoPE/attention alone do to
// the values.
func identity(n int) []float32 {
	v := make([]float32, n*n)
	for i := 0; i < n; i++ {
		v[i*n+i] = 1
	}
	return v
}

// buildTinyModel assembles a single dense, non-sliding, non-MoE layer
// model small enough to hand-construct weights for: hidden=4, 2 heads of
// head_dim=2, no GQA, vocab=3.
func buildTinyModel(t *testing.T) (*Model, *gpu.Device) {
	t.Helper()

	dev, err := gpu.NewDevice("fake", nil)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}

	const hidden = 4
	const vocab = 3

	cfg := &Config{
		NumLayers:  1,
		HiddenSize: hidden,
		NumHeads:   2,
		NumKVHeads: 2,
		HeadDim:    2,
		VocabSize:  vocab,
		MaxSeqLen:  8,

		RopeTheta:       10000,
		RopeScale:       1,
		RopeScalingKind: "none",
		RopeOrigCtxLen:  8,

		RMSEps: 1e-6,

		TiedEmbeddings: true,

		LayerKinds:   []LayerKind{{}},
		NormTemplate: []layer.Template{layer.TemplateStandard},
	}

	embed := uploadBuf(t, dev, []float32{
		0.1, 0.2, 0.3, 0.4,
		0.5, 0.6, 0.7, 0.8,
		-0.1, -0.2, -0.3, -0.4,
	}, "embed")

	w := &Weights{
		EmbedTokens: embed,
		OutputNorm:  uploadBuf(t, dev, ones(hidden), "out_norm"),
		Layers: []LayerWeights{
			{
				Attention: layer.AttentionWeights{
					InputNorm: uploadBuf(t, dev, ones(hidden), "attn.in_norm"),
					WQ:        uploadBuf(t, dev, identity(hidden), "attn.wq"),
					WK:        uploadBuf(t, dev, identity(hidden), "attn.wk"),
					WV:        uploadBuf(t, dev, identity(hidden), "attn.wv"),
					WO:        uploadBuf(t, dev, identity(hidden), "attn.wo"),
				},
				FFNPreNorm: uploadBuf(t, dev, ones(hidden), "ffn.pre_norm"),
				Dense: &layer.DenseFFNWeights{
					WGate: uploadBuf(t, dev, identity(hidden), "ffn.gate"),
					WUp:   uploadBuf(t, dev, identity(hidden), "ffn.up"),
					WDown: uploadBuf(t, dev, identity(hidden), "ffn.down"),
				},
			},
		},
	}

	m, err := NewModel(dev, cfg, w, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m, dev
}

func TestPrefillThenDecodeProducesFiniteLogits(t *testing.T) {
	m, _ := buildTinyModel(t)
	ctx := context.Background()

	logits, err := m.Prefill(ctx, []uint32{0, 1})
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if len(logits) != m.cfg.VocabSize {
		t.Fatalf("Prefill logits len = %d, want %d", len(logits), m.cfg.VocabSize)
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("Prefill logits[%d] = %v, not finite", i, v)
		}
	}

	next, err := m.Decode(ctx, 2)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(next) != m.cfg.VocabSize {
		t.Fatalf("Decode logits len = %d, want %d", len(next), m.cfg.VocabSize)
	}
	for i, v := range next {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("Decode logits[%d] = %v, not finite", i, v)
		}
	}

	if m.pos != 3 {
		t.Fatalf("model position after prefill(2)+decode(1) = %d, want 3", m.pos)
	}
}

func TestResetClearsPositionAndCache(t *testing.T) {
	m, _ := buildTinyModel(t)
	ctx := context.Background()

	if _, err := m.Prefill(ctx, []uint32{0, 1}); err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	m.Reset()
	if m.pos != 0 {
		t.Fatalf("pos after Reset = %d, want 0", m.pos)
	}

	// A second prefill from the reset state must succeed identically to a
	// fresh model's first prefill rather than erroring on stale cache state.
	if _, err := m.Prefill(ctx, []uint32{0, 1}); err != nil {
		t.Fatalf("Prefill after Reset: %v", err)
	}
}
