// Append writes newly computed key/value rows into the cache, replacing
// the teacher's StartForward/findLocs bookkeeping (kvcache/forward.go) with
// a straight ring-buffer write, since single-sequence use has no free-cell
// search to do: positions are always written at the current write cursor.
package kvcache

import (
	"encoding/binary"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpuerr"
)

func ringParams(capacity, startPos int) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], uint32(capacity))
	binary.LittleEndian.PutUint32(b[4:8], uint32(startPos))
	return b
}

// Append records numTokens new rows of key/value into layer's storage at
// the current cursor, wrapping around the ring when curLen has passed
// capacity. key and value must already be shaped [numTokens, numKVHeads *
// headDim] in row-major layout.
func (c *Cache) Append(rec *gpu.Recorder, layer int, key, value *gpu.Buffer, numTokens int) error {
	if err := c.ensureLayer(layer); err != nil {
		return err
	}

	if c.window > 0 && int32(numTokens) > c.window {
		return &gpuerr.ShapeError{Op: "kvcache.append", Detail: "batch larger than the sliding window cannot be appended in one call"}
	}

	rowWidth := uint32(c.numKVHeads * c.headDim)
	startPos := int(uint32(c.curLen) % uint32(c.capacity))

	paramsBuf, err := rec.Upload(ringParams(c.capacity, startPos), gpu.DTypeU32, "kvcache.ring_params")
	if err != nil {
		return err
	}

	rec.Dispatch("kvcache.append_rows", []*gpu.Buffer{key, c.keys[layer], paramsBuf}, [3]uint32{rowWidth, uint32(numTokens), 1})
	rec.Dispatch("kvcache.append_rows", []*gpu.Buffer{value, c.values[layer], paramsBuf}, [3]uint32{rowWidth, uint32(numTokens), 1})

	// curLen only advances once, by the caller driving every layer through
	// the same recorder in the same forward pass; layer.Template calls
	// Append once per layer per batch, so curLen must be bumped exactly
	// once per batch rather than once per layer. AdvanceCursor does that.
	return nil
}

// AdvanceCursor moves the write cursor forward by numTokens once per
// forward pass, after every layer's Append call for that pass has been
// recorded. Split from Append because Append is called once per layer but
// the cursor must advance only once per batch.
func (c *Cache) AdvanceCursor(numTokens int) {
	c.curLen += int32(numTokens)
}

// SeqLen reports the number of tokens written so far (spec.md §8's
// "sequence length after decode" property), uncapped by capacity even
// though storage itself wraps.
func (c *Cache) SeqLen() int32 { return c.curLen }

// ValidLength returns how many of the cache's rows currently hold live
// data visible to attention: min(curLen, capacity) once the ring has
// wrapped.
func (c *Cache) ValidLength() int {
	if int(c.curLen) < c.capacity {
		return int(c.curLen)
	}
	return c.capacity
}
