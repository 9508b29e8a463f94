package fakedevice

import (
	"context"
	"math"
	"testing"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpu/dispatch"
	"github.com/ollama-fork/gpuinfer/kernel"
)

func newDevice(t *testing.T) *gpu.Device {
	t.Helper()
	dev, err := gpu.NewDevice("fake", nil)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	return dev
}

func uploadF32(t *testing.T, dev *gpu.Device, vals []float32) *gpu.Buffer {
	t.Helper()
	b, err := dev.Pool().Acquire(int64(len(vals)*4), gpu.DTypeF32, "test")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	data := make([]byte, len(vals)*4)
	for i, v := range vals {
		setF32(data, i, v)
	}
	if err := dev.Pool().Upload(b, data); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return b
}

func uploadU32(t *testing.T, dev *gpu.Device, vals []uint32) *gpu.Buffer {
	t.Helper()
	b, err := dev.Pool().Acquire(int64(len(vals)*4), gpu.DTypeU32, "test")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	data := make([]byte, len(vals)*4)
	for i, v := range vals {
		data[i*4] = byte(v)
		data[i*4+1] = byte(v >> 8)
		data[i*4+2] = byte(v >> 16)
		data[i*4+3] = byte(v >> 24)
	}
	if err := dev.Pool().Upload(b, data); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return b
}

func readF32(t *testing.T, dev *gpu.Device, b *gpu.Buffer, n int) []float32 {
	t.Helper()
	data, err := dev.Pool().Read(b, int64(n*4))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = getF32(data, i)
	}
	return out
}

func almostEqual(a, b, tol float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestScale(t *testing.T) {
	dev := newDevice(t)
	x := uploadF32(t, dev, []float32{1, 2, 3, 4})

	out, err := kernel.RunScale(dev, x, 4, 2.5, "scale")
	if err != nil {
		t.Fatalf("RunScale: %v", err)
	}
	got := readF32(t, dev, out, 4)
	want := []float32{2.5, 5, 7.5, 10}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-5) {
			t.Fatalf("scale[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResidualAdd(t *testing.T) {
	dev := newDevice(t)
	a := uploadF32(t, dev, []float32{1, 2, 3})
	b := uploadF32(t, dev, []float32{10, 20, 30})

	out, err := kernel.RunResidualAdd(dev, a, b, 3, "res")
	if err != nil {
		t.Fatalf("RunResidualAdd: %v", err)
	}
	got := readF32(t, dev, out, 3)
	want := []float32{11, 22, 33}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-5) {
			t.Fatalf("residual[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSiLUGated(t *testing.T) {
	dev := newDevice(t)
	gate := uploadF32(t, dev, []float32{0, 1, -1})
	up := uploadF32(t, dev, []float32{1, 1, 1})

	out, err := kernel.RunSiLUGated(dev, gate, up, 3, "silu")
	if err != nil {
		t.Fatalf("RunSiLUGated: %v", err)
	}
	got := readF32(t, dev, out, 3)
	if !almostEqual(got[0], 0, 1e-5) {
		t.Fatalf("silu(0) gated = %v, want 0", got[0])
	}
	wantOne := float32(1.0 / (1.0 + math.Exp(-1)))
	if !almostEqual(got[1], wantOne, 1e-4) {
		t.Fatalf("silu(1) gated = %v, want %v", got[1], wantOne)
	}
}

func TestRMSNorm(t *testing.T) {
	dev := newDevice(t)
	x := uploadF32(t, dev, []float32{3, 4})
	w := uploadF32(t, dev, []float32{1, 1})

	table := dispatch.NewTable(dev.Capability(), nil)
	out, err := kernel.RunRMSNorm(dev, table, 0, x, w, 1, 2, 1e-6, "norm")
	if err != nil {
		t.Fatalf("RunRMSNorm: %v", err)
	}
	got := readF32(t, dev, out, 2)

	rms := float32(math.Sqrt(float64((9.0+16.0)/2.0 + 1e-6)))
	want := []float32{3 / rms, 4 / rms}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-4) {
			t.Fatalf("rmsnorm[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRoPEIdentityAtPositionZero(t *testing.T) {
	dev := newDevice(t)
	// One token, one head, head_dim=2 (half_dim=1). cos(0)=1, sin(0)=0 for
	// every pair, so a rotation starting at position 0 must be a no-op on
	// its first token.
	qk := uploadF32(t, dev, []float32{5, 7})
	cosTable := uploadF32(t, dev, []float32{1, 1, 1, 1})
	sinTable := uploadF32(t, dev, []float32{0, 0, 0, 0})

	table := dispatch.NewTable(dev.Capability(), nil)
	if err := kernel.RunRoPE(dev, table, 0, qk, 1, 1, 2, cosTable, sinTable, 0); err != nil {
		t.Fatalf("RunRoPE: %v", err)
	}
	got := readF32(t, dev, qk, 2)
	if !almostEqual(got[0], 5, 1e-5) || !almostEqual(got[1], 7, 1e-5) {
		t.Fatalf("rope at pos 0 changed values: %v", got)
	}
}

func TestMatmul(t *testing.T) {
	dev := newDevice(t)
	// a: 2x2, b: 2x2 (row-major, b is [n,k] so b^T gives standard matmul).
	a := uploadF32(t, dev, []float32{1, 2, 3, 4})
	b := uploadF32(t, dev, []float32{1, 0, 0, 1}) // identity as [n,k]

	table := dispatch.NewTable(dev.Capability(), nil)
	out, err := kernel.RunMatmul(dev, table, 0, a, b, 2, 2, 2, "mm")
	if err != nil {
		t.Fatalf("RunMatmul: %v", err)
	}
	got := readF32(t, dev, out, 4)
	want := []float32{1, 2, 3, 4}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-5) {
			t.Fatalf("matmul[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGather(t *testing.T) {
	dev := newDevice(t)
	ids := uploadU32(t, dev, []uint32{2, 0})
	table := uploadF32(t, dev, []float32{0, 0, 10, 20, 30, 40})

	out, err := kernel.RunGather(dev, ids, table, 2, 2, "embed")
	if err != nil {
		t.Fatalf("RunGather: %v", err)
	}
	got := readF32(t, dev, out, 4)
	want := []float32{30, 40, 0, 0}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-5) {
			t.Fatalf("gather[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSoftmaxTopK(t *testing.T) {
	dev := newDevice(t)
	logits := uploadF32(t, dev, []float32{1, 5, 2, 0})

	dtable := dispatch.NewTable(dev.Capability(), nil)
	indices, weights, err := kernel.RunSoftmaxTopK(dev, dtable, 0, logits, 1, 4, 2, true)
	if err != nil {
		t.Fatalf("RunSoftmaxTopK: %v", err)
	}

	idxBytes, err := dev.Pool().Read(indices, 2*4)
	if err != nil {
		t.Fatalf("Read indices: %v", err)
	}
	if got := getU32(idxBytes, 0); got != 1 {
		t.Fatalf("top expert = %d, want 1", got)
	}
	if got := getU32(idxBytes, 1); got != 2 {
		t.Fatalf("second expert = %d, want 2", got)
	}

	w := readF32(t, dev, weights, 2)
	var sum float32
	for _, v := range w {
		sum += v
	}
	if !almostEqual(sum, 1, 1e-4) {
		t.Fatalf("normalized weights sum = %v, want 1", sum)
	}
}

func TestAttentionSingleTokenReturnsValue(t *testing.T) {
	dev := newDevice(t)
	// One query position attending to itself only: softmax over a single
	// score is 1, so the output must equal v exactly regardless of q/k.
	q := uploadF32(t, dev, []float32{1, 0})
	k := uploadF32(t, dev, []float32{0.3, 0.7})
	v := uploadF32(t, dev, []float32{9, 11})

	dtable := dispatch.NewTable(dev.Capability(), nil)
	out, err := kernel.RunAttention(dev, dtable, 0, q, k, v, 1, 1, 1, 1, 2, 0, 0, "attn")
	if err != nil {
		t.Fatalf("RunAttention: %v", err)
	}
	got := readF32(t, dev, out, 2)
	if !almostEqual(got[0], 9, 1e-4) || !almostEqual(got[1], 11, 1e-4) {
		t.Fatalf("attention single-token output = %v, want [9 11]", got)
	}
}

func TestScatterAddAccumulates(t *testing.T) {
	dev := newDevice(t)
	expertOutputs := uploadF32(t, dev, []float32{1, 1, 2, 2})
	weights := uploadF32(t, dev, []float32{0.5, 0.5})
	tokenOffsets := uploadU32(t, dev, []uint32{0, 0})

	y, err := dev.Pool().Acquire(2*4, gpu.DTypeF32, "y")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := dev.Pool().Upload(y, make([]byte, 8)); err != nil {
		t.Fatalf("Upload zero: %v", err)
	}

	dtable := dispatch.NewTable(dev.Capability(), nil)
	if err := kernel.RunScatterAdd(dev, dtable, 0, expertOutputs, weights, tokenOffsets, y, 2, 2); err != nil {
		t.Fatalf("RunScatterAdd: %v", err)
	}
	got := readF32(t, dev, y, 2)
	want := []float32{1.5, 1.5}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-5) {
			t.Fatalf("scatter_add[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEncoderSubmitAwaitsWithoutError(t *testing.T) {
	dev := newDevice(t)
	rec := dev.NewRecorder()
	x := uploadF32(t, dev, []float32{1, 2})
	if _, err := kernel.Scale(rec, x, 2, 3, "s"); err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if err := rec.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}
