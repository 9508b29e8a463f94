// Package dispatch selects a kernel shader variant for an operation from
// the device capability set and the operand shapes, per spec.md §4.2's
// dispatch table. Grounded on the teacher's capability-driven placement
// decisions (ml/device_layers.go picks GPU layer counts from available
// device memory the same way this package picks a shader variant from
// shared-memory limits): both are "given what the device reports, choose
// the largest thing that still fits" selections.
package dispatch

import (
	"fmt"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpuerr"
	"github.com/ollama-fork/gpuinfer/kernelconfig"
)

// Op names the kernel families dispatch chooses a variant for.
type Op string

const (
	OpMatmul      Op = "matmul"
	OpAttention   Op = "attention"
	OpRMSNorm     Op = "rmsnorm"
	OpRoPE        Op = "rope"
	OpSoftmaxTopK Op = "softmax_topk"
	OpScatterAdd  Op = "scatter_add"
	OpDequant     Op = "dequant"
)

// Shape carries the operand metadata variant selection rules key off:
// batch size M (rows being processed), head_dim, and the KV storage dtype.
type Shape struct {
	M        int
	HeadDim  int
	KVDType  gpu.DType
	ADType   gpu.DType
	BDType   gpu.DType
}

// Variant is an opaque shader-variant identifier passed straight through
// to gpu.Encoder.DispatchCompute; it doubles as the shape-bucket key used
// by the autotune store.
type Variant string

// Table selects variants from capability + shape, consulting an optional
// kernelconfig.Profile pin before falling back to auto-selection.
type Table struct {
	cap     gpu.Capability
	profile *kernelconfig.Profile
}

func NewTable(cap gpu.Capability, profile *kernelconfig.Profile) *Table {
	return &Table{cap: cap, profile: profile}
}

// Select returns the shader variant for op given sh, consulting the
// configuration profile first (spec.md §6 Configuration profiles: "if
// absent, auto-selection applies").
func (t *Table) Select(op Op, layer int, sh Shape) (Variant, error) {
	if t.profile != nil {
		if v, ok := t.profile.Pin(string(op), layer, t.cap.Fingerprint); ok {
			if !t.fits(op, Variant(v), sh) {
				return "", &gpuerr.DispatchError{Op: string(op), Detail: fmt.Sprintf("pinned variant %q does not fit capability", v)}
			}
			return Variant(v), nil
		}
	}

	switch op {
	case OpMatmul:
		return t.selectMatmul(sh)
	case OpAttention:
		return t.selectAttention(sh)
	case OpRMSNorm:
		return "rmsnorm.standard", nil
	case OpRoPE:
		return "rope.f32_inplace", nil
	case OpSoftmaxTopK:
		if sh.M == 2 {
			return "softmax_topk.k2_fast", nil
		}
		return "softmax_topk.fused", nil
	case OpScatterAdd:
		return "scatter_add.vec4", nil
	case OpDequant:
		return t.selectDequant(sh)
	default:
		return "", &gpuerr.DispatchError{Op: string(op), Detail: "unknown op"}
	}
}

func (t *Table) selectMatmul(sh Shape) (Variant, error) {
	switch {
	case sh.M == 1:
		return "matmul.gemv_subgroup", checkSubgroupFallback(t.cap, "matmul.gemv_subgroup", "matmul.f32")
	case sh.BDType == gpu.DTypeU8Q4K:
		return "matmul.q4k_fused", nil
	case sh.ADType == gpu.DTypeF16 && sh.BDType == gpu.DTypeF32:
		return "matmul.f16w_f32a_mixed", nil
	case sh.ADType == gpu.DTypeF16 && sh.BDType == gpu.DTypeF16:
		if !t.cap.HasF16 {
			return "", &gpuerr.DispatchError{Op: "matmul", Detail: "f16 operands but device lacks has_f16"}
		}
		return "matmul.f16", nil
	default:
		return "matmul.f32", nil
	}
}

func checkSubgroupFallback(cap gpu.Capability, withSub, without Variant) (Variant, error) {
	if cap.HasSubgroups {
		return withSub, nil
	}
	return without, nil
}

// tileSharedMemBytes estimates the shared-memory footprint of each
// attention tiling variant for a given head_dim, used to reject a variant
// that would exceed the device's max_shared_mem_bytes (spec.md §4.2:
// "Selection must never pick a shader whose required shared memory
// exceeds the device limit; if none fits, fall back to streaming").
func tileSharedMemBytes(headDim int, tileRows int) int {
	// Two tiles (Q, K) of tileRows x headDim f32 values, plus a running
	// max/sum accumulator pair per row.
	return tileRows*headDim*4*2 + tileRows*2*4
}

func (t *Table) selectAttention(sh Shape) (Variant, error) {
	f16kv := ""
	if sh.KVDType == gpu.DTypeF16 {
		f16kv = "_f16kv"
	}

	const largeTileRows = 128
	const smallTileRows = 32

	if t.cap.MaxSharedMemBytes >= 48*1024 && sh.HeadDim <= 64 &&
		tileSharedMemBytes(sh.HeadDim, largeTileRows) <= t.cap.MaxSharedMemBytes {
		return Variant(fmt.Sprintf("attention.tiled_large%s", f16kv)), nil
	}

	if sh.HeadDim <= 256 && tileSharedMemBytes(sh.HeadDim, smallTileRows) <= t.cap.MaxSharedMemBytes {
		return Variant(fmt.Sprintf("attention.tiled_small%s", f16kv)), nil
	}

	return Variant(fmt.Sprintf("attention.streaming%s", f16kv)), nil
}

func (t *Table) selectDequant(sh Shape) (Variant, error) {
	switch {
	case t.cap.HasSubgroups:
		return "dequant.subgroup_assisted", nil
	default:
		return "dequant.shared_memory", nil
	}
}

// fits re-validates a profile-pinned variant against the shared-memory
// constraint so a stale configuration profile (written for a different
// device family) can't silently violate spec.md's hard shared-memory rule.
func (t *Table) fits(op Op, v Variant, sh Shape) bool {
	if op != OpAttention {
		return true
	}
	// A pinned attention variant naming "tiled_large" still must fit.
	if len(v) >= len("attention.tiled_large") && v[:len("attention.tiled_large")] == "attention.tiled_large" {
		return t.cap.MaxSharedMemBytes >= 48*1024
	}
	return true
}
