// Get returns the layer's key/value buffers for attention, replacing the
// teacher's strided-view Get (kvcache/tensor_ops.go) since this cache's
// backing buffers are already row-major [capacity, numKVHeads*headDim] with
// no reshaping needed at read time; the ring wraparound itself is handled
// inside the attention shader by bounding reads to ValidLength.
package kvcache

import "github.com/ollama-fork/gpuinfer/gpu"

// Get returns layer's key and value buffers along with the number of valid
// rows (lkv) attention should read. The caller passes lkv straight through
// to kernel.Attention.
func (c *Cache) Get(layer int) (key, value *gpu.Buffer, lkv int, err error) {
	if err := c.ensureLayer(layer); err != nil {
		return nil, nil, 0, err
	}
	return c.keys[layer], c.values[layer], c.ValidLength(), nil
}
