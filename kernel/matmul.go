package kernel

import (
	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/gpuerr"
)

// Matmul computes y[M,N] = a[M,K] @ b[N,K]^T, grounded on the teacher's
// ggml_mul_mat convention (tensor_matrix.go: the second operand is stored
// row-major as [N,K] so each output column is a dot product against one
// weight row, letting quantized weight rows stay contiguous). bDType
// carries the weight's storage dtype (possibly DTypeU8Q4K); a is always
// f32 or f16 activations.
func Matmul(rec *gpu.Recorder, table *dispatch.Table, layer int, a *gpu.Buffer, b *gpu.Buffer, m, k, n int, label string) (*gpu.Buffer, error) {
	if a.DType() != gpu.DTypeF32 && a.DType() != gpu.DTypeF16 {
		return nil, &gpuerr.ShapeError{Op: "matmul", Detail: "activand operand must be f32 or f16"}
	}

	variant, err := table.Select(dispatch.OpMatmul, layer, dispatch.Shape{M: m, ADType: a.DType(), BDType: b.DType()})
	if err != nil {
		return nil, err
	}

	out, err := rec.Acquire(int64(m*n)*int64(gpu.DTypeF32.ElementSize()), gpu.DTypeF32, label)
	if err != nil {
		return nil, err
	}

	dims := make([]byte, 12)
	copy(dims[0:4], u32Bytes(uint32(m)))
	copy(dims[4:8], u32Bytes(uint32(k)))
	copy(dims[8:12], u32Bytes(uint32(n)))
	dimsBuf, err := rec.Upload(dims, gpu.DTypeU32, label+".dims")
	if err != nil {
		return nil, err
	}

	rec.Dispatch(string(variant), []*gpu.Buffer{a, b, out, dimsBuf}, [3]uint32{ceilDiv(n, 16), ceilDiv(m, 16), 1})
	return out, nil
}

// RunMatmul is Matmul's one-shot form: it builds its own recorder, submits,
// and returns once the product is ready. Used by the autotune bench loop to
// time candidate workgroup sizes.
func RunMatmul(dev *gpu.Device, table *dispatch.Table, layer int, a, b *gpu.Buffer, m, k, n int, label string) (*gpu.Buffer, error) {
	return runOnce(dev, func(rec *gpu.Recorder) (*gpu.Buffer, error) {
		return Matmul(rec, table, layer, a, b, m, k, n, label)
	})
}
