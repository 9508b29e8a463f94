package gpu

import (
	"fmt"
	"sync"

	"github.com/ollama-fork/gpuinfer/gpuerr"
)

// Allocator is implemented by the concrete backend (gpu/wgpu.Backend) to
// back fresh allocations when the pool has no free buffer for a bucket.
type Allocator interface {
	Allocate(size int64, dtype DType, usage UsageFlags, label string) (Native, error)
	// ReadBack copies byteLen bytes from the buffer to host memory via a
	// staging buffer, mapping it for the duration of the call. The
	// returned slice is only valid until the next ReadBack call.
	ReadBack(n Native, byteLen int64) ([]byte, error)
	// Upload copies data into the start of n's device storage via a
	// staging buffer, for host-computed inputs a kernel needs to read
	// (RoPE tables, token ids, router-derived index buffers).
	Upload(n Native, data []byte) error
}

type poolKey struct {
	bucket int64
	dtype  DType
}

// Pool is the buffer pool of spec.md §4.1: a multiset of freed buffers
// keyed by (rounded-up size, dtype), process-scoped and shared across
// forward passes. Grounded on the teacher's per-buft allocation accounting
// in ml/backend/ggml/context_tensors.go, generalized from "one buffer type
// per ggml_backend_buffer_type" to an explicit free-list pool because the
// compute-shader backend doesn't hand out buffer-type-scoped allocators.
type Pool struct {
	alloc Allocator

	mu   sync.Mutex
	free map[poolKey][]*Buffer

	bytesResident   int64
	bytesReadBack   int64
	bucketsInUse    int
}

func NewPool(alloc Allocator) *Pool {
	return &Pool{alloc: alloc, free: make(map[poolKey][]*Buffer)}
}

// bucketSize rounds a byte length up to a power-of-two bucket, floored at
// 256 bytes so tiny scalar buffers (e.g. a single int32 position) don't
// each get their own allocation class.
func bucketSize(n int64) int64 {
	const minBucket = 256
	if n <= minBucket {
		return minBucket
	}
	b := int64(minBucket)
	for b < n {
		b <<= 1
	}
	return b
}

// Acquire returns an existing free buffer matching (bucket, dtype) if one
// exists, else allocates a new one from the backend.
func (p *Pool) Acquire(size int64, dtype DType, label string) (*Buffer, error) {
	bucket := bucketSize(size)
	key := poolKey{bucket, dtype}

	p.mu.Lock()
	if bufs := p.free[key]; len(bufs) > 0 {
		b := bufs[len(bufs)-1]
		p.free[key] = bufs[:len(bufs)-1]
		p.bucketsInUse++
		p.mu.Unlock()

		b.size = size
		b.label = label
		b.pending = 0
		return b, nil
	}
	p.mu.Unlock()

	n, err := p.alloc.Allocate(bucket, dtype, UsageStorageRead|UsageStorageWrite|UsageCopySrc|UsageCopyDst, label)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire %d bytes (%s): %v", gpuerr.ErrResourceExhausted, bucket, dtype, err)
	}

	p.mu.Lock()
	p.bytesResident += bucket
	p.bucketsInUse++
	p.mu.Unlock()

	return &Buffer{native: n, size: size, dtype: dtype, bucket: bucket, label: label}, nil
}

// Release returns b to its bucket. The caller (normally the Recorder, on
// submit) must guarantee b.pending == 0; Release panics otherwise because
// a buffer handed back while a command still references it is a usage
// error that must be caught at the call site, not silently tolerated.
func (p *Pool) Release(b *Buffer) {
	if b.pending > 0 {
		panic(fmt.Sprintf("gpu: release of buffer %q with %d pending commands", b.label, b.pending))
	}

	key := poolKey{b.bucket, b.dtype}

	p.mu.Lock()
	p.free[key] = append(p.free[key], b)
	p.bucketsInUse--
	p.mu.Unlock()
}

// Read issues a device->host copy and returns the bytes. The returned
// slice is backend-owned and only valid until the next Read call (mirrors
// spec.md's "live until the next read").
func (p *Pool) Read(b *Buffer, byteLen int64) ([]byte, error) {
	out, err := p.alloc.ReadBack(b.native, byteLen)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.bytesReadBack += byteLen
	p.mu.Unlock()

	return out, nil
}

// Upload writes data into the start of b's device storage.
func (p *Pool) Upload(b *Buffer, data []byte) error {
	return p.alloc.Upload(b.native, data)
}

// Stats reports pool occupancy for telemetry, mirroring the teacher's
// BackendMemory() split between resident and in-use accounting.
type Stats struct {
	BucketsInUse  int
	BytesResident int64
	BytesReadBack int64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		BucketsInUse:  p.bucketsInUse,
		BytesResident: p.bytesResident,
		BytesReadBack: p.bytesReadBack,
	}
}

// ReadBackCounter exposes total bytes copied device->host, per spec.md
// §4.1 ("exposed for telemetry").
func (p *Pool) ReadBackCounter() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesReadBack
}
