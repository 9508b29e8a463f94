// Package kvcache implements the KV cache of spec.md §4.4: per-layer key
// and value storage backed by gpu.Buffer, written by the attention
// sub-layer each forward pass and read back by the same layer's Attention
// kernel call.
//
// Narrowed to single-sequence semantics per spec.md §5's "callers guarantee
// at most one forward pass at a time against a given model instance": the
// teacher's multi-tenant bookkeeping (per-sequence cellRanges, CopyPrefix,
// sequence-aware Remove) has no caller in this module and is dropped; see
// DESIGN.md for the narrowing rationale. What survives is the teacher's
// core idea of one cell table shared by causal, sliding-window, and chunked
// attention (ml/kvcache's Causal struct), generalized here into a ring
// buffer indexed by absolute position modulo capacity.
package kvcache

import (
	"fmt"
	"math"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpuerr"
)

// Cache is the KV cache entity of spec.md §3. One Cache instance is created
// per model load and reused across the lifetime of a single generation.
type Cache struct {
	numKVHeads, headDim int
	dtype                gpu.DType

	// capacity is the ring buffer's slot count. For a contiguous cache this
	// equals the model's max context length; for a sliding-window cache it
	// is window + a small headroom so a decode batch never has to evict a
	// token it still needs within the same batch (mirrors the teacher's
	// swaMemorySize padding in kvcache/constructors.go's Init).
	capacity int

	// window is the sliding-window bound passed through to
	// kernel.Attention. Zero means unbounded (contiguous cache).
	window int32

	// chunkSize, when nonzero, additionally restricts attention to the
	// current position's chunk (spec.md glossary: chunked attention).
	chunkSize int32

	dev *gpu.Device

	keys, values map[int]*gpu.Buffer

	// curLen is the number of tokens written so far, monotonically
	// increasing even past capacity (the ring wraps, curLen does not).
	curLen int32
}

// NewContiguousKV creates a cache with no eviction: capacity must be at
// least the model's max context length.
func NewContiguousKV(capacity, numKVHeads, headDim int, dtype gpu.DType) *Cache {
	return &Cache{
		capacity:   capacity,
		numKVHeads: numKVHeads,
		headDim:    headDim,
		dtype:      dtype,
		keys:       make(map[int]*gpu.Buffer),
		values:     make(map[int]*gpu.Buffer),
	}
}

// NewSlidingWindowKV creates a cache that evicts by overwrite once curLen
// exceeds capacity. headroom should cover the largest prefill batch size so
// a single batch never wraps over tokens it still needs mid-dispatch.
func NewSlidingWindowKV(window int32, headroom, numKVHeads, headDim int, dtype gpu.DType) *Cache {
	capacity := int(window) + headroom
	return &Cache{
		capacity:   capacity,
		window:     window,
		numKVHeads: numKVHeads,
		headDim:    headDim,
		dtype:      dtype,
		keys:       make(map[int]*gpu.Buffer),
		values:     make(map[int]*gpu.Buffer),
	}
}

// WithChunkSize sets chunked-attention masking (spec.md glossary) and
// returns the cache for chaining at construction time.
func (c *Cache) WithChunkSize(chunkSize int32) *Cache {
	c.chunkSize = chunkSize
	return c
}

// Init binds the cache to a device; layer buffers are allocated lazily on
// first Append, matching the teacher's lazy ctxs/keys/values maps
// (kvcache/tensor_ops.go's Put).
func (c *Cache) Init(dev *gpu.Device) {
	c.dev = dev
}

func (c *Cache) ensureLayer(layer int) error {
	if _, ok := c.keys[layer]; ok {
		return nil
	}

	rowBytes := int64(c.numKVHeads*c.headDim) * int64(c.dtype.ElementSize())
	if rowBytes == 0 {
		return &gpuerr.ShapeError{Op: "kvcache.ensure_layer", Detail: fmt.Sprintf("dtype %s has no uniform element size", c.dtype)}
	}

	k, err := c.dev.Pool().Acquire(rowBytes*int64(c.capacity), c.dtype, fmt.Sprintf("kv.key[%d]", layer))
	if err != nil {
		return err
	}
	v, err := c.dev.Pool().Acquire(rowBytes*int64(c.capacity), c.dtype, fmt.Sprintf("kv.value[%d]", layer))
	if err != nil {
		return err
	}

	c.keys[layer] = k
	c.values[layer] = v
	return nil
}

// Close releases every layer's buffers back to the device pool.
func (c *Cache) Close() {
	for _, b := range c.keys {
		c.dev.Pool().Release(b)
	}
	for _, b := range c.values {
		c.dev.Pool().Release(b)
	}
}

// Window reports the sliding-window bound (0 if the cache is contiguous),
// for the layer processor to pass straight through to kernel.Attention.
func (c *Cache) Window() int32 { return c.window }

// Capacity reports the ring size in tokens.
func (c *Cache) Capacity() int { return c.capacity }

const unboundedWindow = int32(math.MaxInt32)
