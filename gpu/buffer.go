package gpu

import "fmt"

// UsageFlags describes how a Buffer may be bound in a dispatch. Backends
// translate these into their native usage bits (storage/copy-src/copy-dst).
type UsageFlags uint8

const (
	UsageStorageRead UsageFlags = 1 << iota
	UsageStorageWrite
	UsageCopySrc
	UsageCopyDst
)

// Native is implemented by the concrete backend's buffer handle (e.g. the
// wgpu-backed buffer in gpu/wgpu). The pool and recorder never reach past
// this interface, matching the teacher's split between ml.Tensor (the
// portable handle) and the cgo-backed implementation in
// ml/backend/ggml/tensor.go.
type Native interface {
	// Size is the allocated byte length, already rounded up to the pool's
	// bucket size.
	Size() int64
	// Destroy releases the backend-native allocation. The pool never calls
	// it: Release keeps the buffer for reuse and there is no trim path.
	Destroy()
}

// Buffer is an opaque device memory region: {size_bytes, usage_flags,
// dtype, label} from spec.md §3. It is a thin handle; the pool owns
// lifecycle, the recorder owns pending-reference tracking.
type Buffer struct {
	native Native

	size  int64
	dtype DType
	usage UsageFlags
	label string

	// bucket is the rounded-up size class this buffer was allocated under,
	// used as half of the pool's lookup key on release.
	bucket int64

	// pending counts recorded-but-unsubmitted commands that reference this
	// buffer. release() on a buffer with pending > 0 is a usage error; the
	// recorder is the only code path allowed to decrement it (on submit).
	pending int
}

// NewTestBuffer constructs a Buffer directly from a Native handle without
// going through a Pool, for use by gpu/fakedevice and other packages' tests
// that need a *Buffer without a live device.
func NewTestBuffer(native Native, size int64, dtype DType, label string) *Buffer {
	return &Buffer{native: native, size: size, dtype: dtype, bucket: size, label: label}
}

func (b *Buffer) Size() int64     { return b.size }
func (b *Buffer) DType() DType    { return b.dtype }
func (b *Buffer) Usage() UsageFlags { return b.usage }
func (b *Buffer) Label() string   { return b.label }
func (b *Buffer) Native() Native  { return b.native }

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{%s, %s, %d bytes, pending=%d}", b.label, b.dtype, b.size, b.pending)
}

// bytesPerElement reports storage density for dtypes that pack multiple
// elements per byte or vice versa. Used by buffer-size arithmetic in the
// kernel package; u8-packed formats report 0 because they're block-quantized
// rather than uniformly strided (see kernel.DequantQ4K).
func (d DType) bytesPerElement() int {
	switch d {
	case DTypeF32, DTypeU32:
		return 4
	case DTypeF16:
		return 2
	default:
		return 0
	}
}

// ElementSize exposes bytesPerElement to other packages (kernel's buffer
// size arithmetic). Returns 0 for block-quantized formats, which size their
// buffers from block count rather than a uniform per-element stride.
func (d DType) ElementSize() int { return d.bytesPerElement() }
