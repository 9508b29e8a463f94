package kernel

import (
	"errors"
	"testing"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/gpuerr"
)

func TestDequantQ4KRejectsMisalignedBuffer(t *testing.T) {
	buf := &testNativeBuffer{size: q4kBlockBytes + 1}
	packed := gpu.NewTestBuffer(buf, buf.size, gpu.DTypeU8Q4K, "weight")

	_, err := DequantQ4K(nil, dispatch.NewTable(gpu.Capability{}, nil), 0, packed, 1, "out")
	if err == nil {
		t.Fatal("expected shape error for misaligned Q4_K buffer")
	}
	var shapeErr *gpuerr.ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected *gpuerr.ShapeError, got %T: %v", err, err)
	}
}

func TestDequantMXFP4RejectsUnevenRowSplit(t *testing.T) {
	// Three blocks cannot split evenly across two rows.
	buf := &testNativeBuffer{size: mxfp4BlockBytes * 3}
	packed := gpu.NewTestBuffer(buf, buf.size, gpu.DTypeU8MXFP4, "weight")

	_, err := DequantMXFP4(nil, dispatch.NewTable(gpu.Capability{}, nil), 0, packed, 2, "out")
	if err == nil {
		t.Fatal("expected shape error for uneven block/row split")
	}
}

type testNativeBuffer struct{ size int64 }

func (n *testNativeBuffer) Size() int64 { return n.size }
func (n *testNativeBuffer) Destroy()    {}
