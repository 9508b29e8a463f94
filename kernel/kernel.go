// Package kernel implements the named compute kernels of spec.md §4.3 on
// top of gpu.Recorder and gpu/dispatch.Table. Each kernel follows the
// teacher's tensor_*.go split (tensor_nn.go for normalization/activation,
// tensor_arithmetic.go for elementwise ops, tensor_matrix.go for matmul,
// tensor_ops.go for reshape/gather-style ops), generalized from cgo ggml
// calls to recorded compute-shader dispatches.
//
// Every kernel has two forms: the lowercase-free exported name (e.g.
// Matmul) records one dispatch onto a caller-supplied *gpu.Recorder and
// returns the output buffer without submitting, so several kernels can be
// chained within one forward phase's recording; RunX wraps the same logic
// in its own recorder, submits, and blocks until the result is ready. RunX
// exists for the autotune bench loop and for tests that check one kernel in
// isolation — ordinary forward-pass code always uses the bare form.
package kernel

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
)

// f32Bytes encodes a single float32 uniform for upload, shared by kernels
// that pass a scalar parameter through a 1-element storage buffer rather
// than a dedicated uniform binding.
func f32Bytes(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

// u32Bytes encodes a single uint32 scalar for upload, the integer
// counterpart to f32Bytes (e.g. RoPE's start_pos).
func u32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func ceilDiv(n, d int) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32((n + d - 1) / d)
}

// runOnce records fn against a fresh recorder on dev, submits, and blocks
// for completion, returning whatever buffer fn produced. Used by the RunX
// one-shot forms.
func runOnce(dev *gpu.Device, fn func(rec *gpu.Recorder) (*gpu.Buffer, error)) (*gpu.Buffer, error) {
	rec := dev.NewRecorder()
	out, err := fn(rec)
	if err != nil {
		rec.Drop()
		return nil, err
	}
	if err := rec.Submit(context.Background()); err != nil {
		return nil, err
	}
	return out, nil
}
