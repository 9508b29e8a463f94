// loader.go resolves a parsed manifest's tensor table into device-resident
// pipeline.Weights, the concrete collaborator pipeline/weights.go's doc
// comment defers to "a shard loader (adapter package)". The core stays
// agnostic of how tensors are named; this CLI, as an outer consumer, commits
// to one convention: the blk.N.<name>/<name> keys fs/ggml_tensor.go and
// model/models/*/*.go's `gguf:"..."` struct tags already use throughout the
// teacher (token_embd, output_norm, output (alt token_embd), and per layer
// attn_norm/attn_q/attn_k/attn_v/attn_output/attn_q_norm/attn_k_norm/
// post_attention_norm/ffn_norm/ffn_gate/ffn_up/ffn_down/post_ffw_norm).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ollama-fork/gpuinfer/fs"
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpuerr"
	"github.com/ollama-fork/gpuinfer/layer"
	"github.com/ollama-fork/gpuinfer/pipeline"
)

// localShardLoader implements adapter.ShardLoader by reading one numbered
// file per shard from a directory, named shard<N>.bin. This is the concrete
// collaborator spec.md §6.2 says the core never provides itself.
type localShardLoader struct {
	dir    string
	cached map[int][]byte
}

func newLocalShardLoader(dir string) *localShardLoader {
	return &localShardLoader{dir: dir, cached: make(map[int][]byte)}
}

func (l *localShardLoader) LoadShard(shardIndex int) ([]byte, error) {
	if b, ok := l.cached[shardIndex]; ok {
		return b, nil
	}
	path := filepath.Join(l.dir, fmt.Sprintf("shard%d.bin", shardIndex))
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &gpuerr.AdapterError{Adapter: "localShardLoader", Err: err}
	}
	l.cached[shardIndex] = b
	return b, nil
}

// parseDType inverts gpu.DType.String, the only place that naming is
// defined.
func parseDType(s string) (gpu.DType, error) {
	switch s {
	case "f32":
		return gpu.DTypeF32, nil
	case "f16":
		return gpu.DTypeF16, nil
	case "u32":
		return gpu.DTypeU32, nil
	case "q4_k":
		return gpu.DTypeU8Q4K, nil
	case "mxfp4":
		return gpu.DTypeU8MXFP4, nil
	default:
		return gpu.DTypeOther, &gpuerr.ConfigError{Field: "tensors.dtype", Err: fmt.Errorf("unrecognized dtype %q", s)}
	}
}

// weightLoader resolves named tensors out of a manifest's tensor table into
// device buffers, reading their bytes through the local shard loader. It
// keeps no record of which names were looked up.
type weightLoader struct {
	dev    *gpu.Device
	cfg    *fs.Config
	shards *localShardLoader
}

func newWeightLoader(dev *gpu.Device, cfg *fs.Config, shards *localShardLoader) *weightLoader {
	return &weightLoader{dev: dev, cfg: cfg, shards: shards}
}

// tensor uploads the named tensor to a fresh device buffer, or returns
// (nil, nil) when the manifest has no tensor of that name — the optional
// per-layer norms and the dedicated LM head both rely on this to signal
// "absent, not broken."
func (l *weightLoader) tensor(name string) (*gpu.Buffer, error) {
	info, ok := l.cfg.Tensors()[name]
	if !ok {
		return nil, nil
	}

	dtype, err := parseDType(info.DType)
	if err != nil {
		return nil, err
	}

	shard, err := l.shards.LoadShard(info.Shard)
	if err != nil {
		return nil, err
	}
	if info.Offset < 0 || info.Offset+info.Size > int64(len(shard)) {
		return nil, &gpuerr.ShapeError{Op: "loadTensor", Detail: fmt.Sprintf("%s: offset %d size %d exceeds shard%d length %d", name, info.Offset, info.Size, info.Shard, len(shard))}
	}
	data := shard[info.Offset : info.Offset+info.Size]

	buf, err := l.dev.Pool().Acquire(info.Size, dtype, "weight."+name)
	if err != nil {
		return nil, err
	}
	if err := l.dev.Pool().Upload(buf, data); err != nil {
		return nil, err
	}
	return buf, nil
}

// requireTensor is tensor but fatal (ErrConfig) when the name is missing,
// for tensors every model must carry (embeddings, per-layer projections).
func (l *weightLoader) requireTensor(name string) (*gpu.Buffer, error) {
	buf, err := l.tensor(name)
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, &gpuerr.ConfigError{Field: "tensors", Err: fmt.Errorf("missing required tensor %q", name)}
	}
	return buf, nil
}

// LoadWeights resolves cfg's full tensor set into pipeline.Weights, deciding
// each layer's norm Template from which optional sandwich-norm tensors it
// finds, per config.go's NormTemplate field comment ("decided by the weight
// loader"). MoE layers are rejected: router/expert-shard resolution is
// expertcache/moe's own domain and isn't wired through this CLI loader yet
// (see DESIGN.md).
func LoadWeights(dev *gpu.Device, fsCfg *fs.Config, pcfg *pipeline.Config, shards *localShardLoader) (*pipeline.Weights, error) {
	l := newWeightLoader(dev, fsCfg, shards)

	embed, err := l.requireTensor("token_embd.weight")
	if err != nil {
		return nil, err
	}
	outNorm, err := l.requireTensor("output_norm.weight")
	if err != nil {
		return nil, err
	}
	lmHead, err := l.tensor("output.weight")
	if err != nil {
		return nil, err
	}
	pcfg.TiedEmbeddings = lmHead == nil

	w := &pipeline.Weights{
		EmbedTokens: embed,
		OutputNorm:  outNorm,
		LMHead:      lmHead,
		Layers:      make([]pipeline.LayerWeights, pcfg.NumLayers),
	}

	for i := 0; i < pcfg.NumLayers; i++ {
		if pcfg.LayerKinds[i].MoE {
			return nil, &gpuerr.ConfigError{Field: "layer_kinds", Err: fmt.Errorf("layer %d: MoE weight loading is not wired into this CLI loader", i)}
		}

		lw, template, err := l.loadDenseLayer(i)
		if err != nil {
			return nil, err
		}
		w.Layers[i] = lw
		pcfg.NormTemplate[i] = template
	}

	return w, nil
}

func (l *weightLoader) loadDenseLayer(i int) (pipeline.LayerWeights, layer.Template, error) {
	prefix := fmt.Sprintf("blk.%d.", i)

	inputNorm, err := l.requireTensor(prefix + "attn_norm.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	wq, err := l.requireTensor(prefix + "attn_q.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	wk, err := l.requireTensor(prefix + "attn_k.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	wv, err := l.requireTensor(prefix + "attn_v.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	wo, err := l.requireTensor(prefix + "attn_output.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	qNorm, err := l.tensor(prefix + "attn_q_norm.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	kNorm, err := l.tensor(prefix + "attn_k_norm.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	postAttnNorm, err := l.tensor(prefix + "post_attention_norm.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}

	ffnPreNorm, err := l.requireTensor(prefix + "ffn_norm.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	postFFNNorm, err := l.tensor(prefix + "post_ffw_norm.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	gate, err := l.requireTensor(prefix + "ffn_gate.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	up, err := l.requireTensor(prefix + "ffn_up.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}
	down, err := l.requireTensor(prefix + "ffn_down.weight")
	if err != nil {
		return pipeline.LayerWeights{}, 0, err
	}

	template := layer.TemplateStandard
	if postAttnNorm != nil || postFFNNorm != nil {
		template = layer.TemplateSandwichNorm
	}

	lw := pipeline.LayerWeights{
		Attention: layer.AttentionWeights{
			InputNorm:    inputNorm,
			WQ:           wq,
			WK:           wk,
			WV:           wv,
			WO:           wo,
			QNorm:        qNorm,
			KNorm:        kNorm,
			PostAttnNorm: postAttnNorm,
		},
		FFNPreNorm:  ffnPreNorm,
		FFNPostNorm: postFFNNorm,
		Dense: &layer.DenseFFNWeights{
			PostFFNNorm: postFFNNorm,
			WGate:       gate,
			WUp:         up,
			WDown:       down,
		},
	}
	return lw, template, nil
}
