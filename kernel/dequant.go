package kernel

import (
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/gpuerr"
)

// q4kBlockValues and q4kBlockBytes describe the Q4_K super-block layout
// (256 packed 4-bit values per 144-byte block: 2 f16 scale/min scalars, 12
// bytes of 6-bit sub-block scales, 128 bytes of nibbles), grounded on the
// teacher's GGML_TYPE_Q4_K handling in fs/ggml.
const (
	q4kBlockValues = 256
	q4kBlockBytes  = 144
)

// mxfp4BlockValues/mxfp4BlockBytes describe the OCP MXFP4 microscaled
// layout named in the glossary: 32 4-bit float values share one 8-bit
// power-of-two scale, so each block is 32 values / 16 packed bytes + 1
// scale byte.
const (
	mxfp4BlockValues = 32
	mxfp4BlockBytes  = 17
)

// DequantQ4K expands a Q4_K-packed weight matrix into f32, grounded on the
// teacher's dequantize_row_q4_K reference path (tensor_ops.go), dispatched
// as a compute kernel rather than run on the host.
func DequantQ4K(rec *gpu.Recorder, table *dispatch.Table, layer int, packed *gpu.Buffer, numRows int, label string) (*gpu.Buffer, error) {
	if packed.Size()%q4kBlockBytes != 0 {
		return nil, &gpuerr.ShapeError{Op: "dequant_q4k", Detail: "packed buffer is not a whole number of Q4_K blocks"}
	}
	totalBlocks := packed.Size() / q4kBlockBytes
	if numRows <= 0 || totalBlocks%int64(numRows) != 0 {
		return nil, &gpuerr.ShapeError{Op: "dequant_q4k", Detail: "block count does not divide evenly across rows"}
	}
	blocksPerRow := int(totalBlocks / int64(numRows))

	variant, err := table.Select(dispatch.OpDequant, layer, dispatch.Shape{})
	if err != nil {
		return nil, err
	}

	out, err := rec.Acquire(int64(numRows*blocksPerRow*q4kBlockValues)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}

	rec.Dispatch(string(variant), []*gpu.Buffer{packed, out}, [3]uint32{uint32(blocksPerRow), uint32(numRows), 1})
	return out, nil
}

func RunDequantQ4K(dev *gpu.Device, table *dispatch.Table, layer int, packed *gpu.Buffer, numRows int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return DequantQ4K(rec, table, layer, packed, numRows, label)
	})
}

// DequantMXFP4 expands an MXFP4-packed expert weight matrix into f32.
// Grounded on the glossary's MXFP4 definition rather than a teacher code
// path, since the retrieved teacher source never loads MXFP4 weights
// directly (see DESIGN.md).
func DequantMXFP4(rec *gpu.Recorder, table *dispatch.Table, layer int, packed *gpu.Buffer, numRows int, label string) (*gpu.Buffer, error) {
	if packed.Size()%mxfp4BlockBytes != 0 {
		return nil, &gpuerr.ShapeError{Op: "dequant_mxfp4", Detail: "packed buffer is not a whole number of MXFP4 blocks"}
	}
	totalBlocks := packed.Size() / mxfp4BlockBytes
	if numRows <= 0 || totalBlocks%int64(numRows) != 0 {
		return nil, &gpuerr.ShapeError{Op: "dequant_mxfp4", Detail: "block count does not divide evenly across rows"}
	}
	blocksPerRow := int(totalBlocks / int64(numRows))

	variant, err := table.Select(dispatch.OpDequant, layer, dispatch.Shape{})
	if err != nil {
		return nil, err
	}

	out, err := rec.Acquire(int64(numRows*blocksPerRow*mxfp4BlockValues)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}

	rec.Dispatch(string(variant), []*gpu.Buffer{packed, out}, [3]uint32{uint32(blocksPerRow), uint32(numRows), 1})
	return out, nil
}

func RunDequantMXFP4(dev *gpu.Device, table *dispatch.Table, layer int, packed *gpu.Buffer, numRows int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return DequantMXFP4(rec, table, layer, packed, numRows, label)
	})
}
