// Package gpu implements the GPU resource manager: device capability
// probing, the size-bucketed buffer pool, and the command recorder that
// defers kernel submission to once per forward pass.
package gpu

// DType is the element type of a Buffer. Buffers of the same byte size but
// different DType are not interchangeable from a shader's perspective, so
// the pool keys on (bucket, DType) rather than byte size alone.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeU32
	DTypeU8Q4K
	DTypeU8MXFP4
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeU32:
		return "u32"
	case DTypeU8Q4K:
		return "q4_k"
	case DTypeU8MXFP4:
		return "mxfp4"
	default:
		return "other"
	}
}

// Capability is the device capability set C referenced throughout the
// kernel dispatch tables: has_f16, has_subgroups, max_shared_mem_bytes,
// max_storage_buffer_bytes.
type Capability struct {
	HasF16                bool
	HasSubgroups          bool
	MaxSharedMemBytes     int
	MaxStorageBufferBytes int64

	// Fingerprint identifies the physical device+driver combination for
	// autotune persistence keys. It must be stable across process restarts
	// on the same machine and distinct across different GPUs/drivers.
	Fingerprint string
}
