// Package pipeline implements the forward pass of spec.md §4.8: embed the
// token ids, run them through every transformer block, normalize, and
// project to vocabulary logits. Grounded on model/model.go's package-level
// Forward and runner/ollamarunner/runner_batch.go's forwardBatch, narrowed
// from N-sequence batching to the single in-flight sequence spec.md §5
// commits this module to.
package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ollama-fork/gpuinfer/expertcache"
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/kernel"
	"github.com/ollama-fork/gpuinfer/kernelconfig"
	"github.com/ollama-fork/gpuinfer/kvcache"
	"github.com/ollama-fork/gpuinfer/layer"
	"github.com/ollama-fork/gpuinfer/logutil"
	"github.com/ollama-fork/gpuinfer/moe"
)

// slidingHeadroom covers the largest prefill batch a sliding-window cache
// might see in one call, matching kvcache.NewSlidingWindowKV's headroom
// parameter (itself grounded on the teacher's swaMemorySize padding).
const slidingHeadroom = 512

// Model is one loaded model ready to run Prefill/Decode: its resolved
// configuration, resident weights, dispatch table, RoPE tables, and the
// one or two KV caches (full-attention and, for mixed-pattern models,
// sliding-window) spec.md §4.4 describes.
type Model struct {
	cfg   *Config
	dev   *gpu.Device
	table *dispatch.Table

	layers []*layer.Layer
	w      *Weights

	fullCache    *kvcache.Cache
	slidingCache *kvcache.Cache

	ropeGlobal *RoPETable
	ropeLocal  *RoPETable

	pos int
}

// NewModel builds a Model from a resolved Config and its loaded Weights.
// profile may be nil (auto-selection for every dispatch); expertCache and
// fetch are nil for a model with no MoE layers.
func NewModel(dev *gpu.Device, cfg *Config, w *Weights, profile *kernelconfig.Profile, expertCache *expertcache.Cache, fetch moe.FetchExpert) (*Model, error) {
	table := dispatch.NewTable(dev.Capability(), profile)

	layers, err := buildLayers(cfg, w, table, expertCache, fetch)
	if err != nil {
		return nil, err
	}

	ropeGlobal, err := BuildRoPETable(dev, cfg.RopeScalingKind, cfg.RopeTheta, cfg.RopeScale, cfg.HeadDim, cfg.MaxSeqLen, cfg.RopeOrigCtxLen, cfg.RopeBetaFast, cfg.RopeBetaSlow)
	if err != nil {
		return nil, err
	}

	var ropeLocal *RoPETable
	if cfg.RopeThetaLocal != 0 {
		ropeLocal, err = BuildRoPETable(dev, "none", cfg.RopeThetaLocal, 1, cfg.HeadDim, cfg.MaxSeqLen, cfg.MaxSeqLen, 0, 0)
		if err != nil {
			return nil, err
		}
	} else {
		ropeLocal = ropeGlobal
	}

	fullCache := kvcache.NewContiguousKV(cfg.MaxSeqLen, cfg.NumKVHeads, cfg.HeadDim, gpu.DTypeF32)
	fullCache.Init(dev)

	var slidingCache *kvcache.Cache
	for _, k := range cfg.LayerKinds {
		if k.Sliding {
			slidingCache = kvcache.NewSlidingWindowKV(int32(cfg.SlidingWindow), slidingHeadroom, cfg.NumKVHeads, cfg.HeadDim, gpu.DTypeF32)
			slidingCache.Init(dev)
			break
		}
	}

	return &Model{
		cfg:          cfg,
		dev:          dev,
		table:        table,
		layers:       layers,
		w:            w,
		fullCache:    fullCache,
		slidingCache: slidingCache,
		ropeGlobal:   ropeGlobal,
		ropeLocal:    ropeLocal,
	}, nil
}

// Reset clears both KV caches and the position counter, starting a fresh
// sequence (spec.md §4.4's cache reset operation).
func (m *Model) Reset() {
	m.fullCache.Reset()
	if m.slidingCache != nil {
		m.slidingCache.Reset()
	}
	m.pos = 0
}

// Prefill runs every prompt token through the model in one batched forward
// pass and returns the logits for the last position only, per spec.md
// §4.8's "compute and return logits only for the last prompt position"
// prefill contract.
func (m *Model) Prefill(ctx context.Context, ids []uint32) ([]float32, error) {
	return m.forward(ctx, ids, true)
}

// Decode runs a single next-token forward pass and returns that position's
// logits.
func (m *Model) Decode(ctx context.Context, tokenID uint32) ([]float32, error) {
	return m.forward(ctx, []uint32{tokenID}, false)
}

func (m *Model) forward(ctx context.Context, ids []uint32, lastPositionOnly bool) ([]float32, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("pipeline: forward called with no tokens")
	}
	numTokens := len(ids)
	hidden := m.cfg.HiddenSize
	logutil.Trace("forward pass", "tokens", numTokens, "pos", m.pos, "prefill", lastPositionOnly)

	rec := m.dev.NewRecorder()

	idsBuf, err := rec.Upload(idsToBytes(ids), gpu.DTypeU32, "forward.ids")
	if err != nil {
		rec.Drop()
		return nil, err
	}

	x, err := kernel.Gather(rec, idsBuf, m.w.EmbedTokens, numTokens, hidden, "forward.embed")
	if err != nil {
		rec.Drop()
		return nil, err
	}

	if m.cfg.ScaleEmbeddings {
		x, err = kernel.Scale(rec, x, numTokens*hidden, float32(math.Sqrt(float64(hidden))), "forward.embed_scale")
		if err != nil {
			rec.Drop()
			return nil, err
		}
	}

	usedFull, usedSliding := false, false
	for i, l := range m.layers {
		kind := m.cfg.LayerKinds[i]

		cache := m.fullCache
		cos, sin := m.ropeGlobal.Cos, m.ropeGlobal.Sin
		window := 0
		usedFull = true
		if kind.Sliding {
			cache = m.slidingCache
			cos, sin = m.ropeLocal.Cos, m.ropeLocal.Sin
			window = m.cfg.SlidingWindow
			usedSliding = true
		}

		p := layer.AttentionParams{
			NumHeads:   m.cfg.NumHeads,
			NumKVHeads: m.cfg.NumKVHeads,
			HeadDim:    m.cfg.HeadDim,
			Eps:        m.cfg.RMSEps,
			Window:     window,
			StartPos:   m.pos,
		}

		x, err = l.Forward(ctx, rec, m.table, i, x, cos, sin, numTokens, hidden, p, cache)
		if err != nil {
			rec.Drop()
			return nil, err
		}
	}

	finalRow := x
	finalRows := numTokens
	if lastPositionOnly && numTokens > 1 {
		finalRow, err = selectRow(rec, x, numTokens-1, hidden, "forward.last_row")
		if err != nil {
			rec.Drop()
			return nil, err
		}
		finalRows = 1
	}

	normed, err := kernel.RMSNorm(rec, m.table, m.cfg.NumLayers, finalRow, m.w.OutputNorm, finalRows, hidden, m.cfg.RMSEps, "forward.final_norm")
	if err != nil {
		rec.Drop()
		return nil, err
	}

	lmHead := m.w.LMHead
	if lmHead == nil {
		lmHead = m.w.EmbedTokens
	}

	logitsBuf, err := kernel.Matmul(rec, m.table, m.cfg.NumLayers, normed, lmHead, finalRows, hidden, m.cfg.VocabSize, "forward.logits")
	if err != nil {
		rec.Drop()
		return nil, err
	}

	raw, err := rec.Read(logitsBuf, int64(finalRows*m.cfg.VocabSize)*int64(gpu.DTypeF32.ElementSize()))
	if err != nil {
		rec.Drop()
		return nil, err
	}

	if err := rec.Submit(ctx); err != nil {
		return nil, err
	}

	if usedFull {
		m.fullCache.AdvanceCursor(numTokens)
	}
	if usedSliding {
		m.slidingCache.AdvanceCursor(numTokens)
	}
	m.pos += numTokens

	return bytesToF32(raw), nil
}

// selectRow copies row idx out of x [rows, width] into a fresh 1-row
// buffer, reusing kernel.Gather's generic (index buffer, row table)
// signature rather than adding a dedicated slicing kernel.
func selectRow(rec *gpu.Recorder, x *gpu.Buffer, idx, width int, label string) (*gpu.Buffer, error) {
	idxBuf, err := rec.Upload(idsToBytes([]uint32{uint32(idx)}), gpu.DTypeU32, label+".index")
	if err != nil {
		return nil, err
	}
	return kernel.Gather(rec, idxBuf, x, 1, width, label)
}

func idsToBytes(ids []uint32) []byte {
	b := make([]byte, len(ids)*4)
	for i, id := range ids {
		binary.LittleEndian.PutUint32(b[i*4:], id)
	}
	return b
}

func bytesToF32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
