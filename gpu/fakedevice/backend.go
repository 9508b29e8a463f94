// Package fakedevice is a CPU-backed gpu.Backend test double, registered
// under the name "fake" so gpu.NewDevice("fake", nil) builds a *gpu.Device
// with no real GPU behind it. It exists for exactly the reason
// gpu/device.go's Backend doc comment names: a way to exercise kernel,
// kvcache, moe, layer, pipeline, and generate against real (if slow)
// arithmetic without an import cycle into gpu/wgpu's cgo-free but still
// hardware-bound HAL.
//
// Every allocation is a plain Go byte slice; dispatch execution happens
// synchronously inside DispatchCompute rather than being deferred to
// Submit, since there is no queue to batch onto. This trades away the
// real backend's pipelining for determinism, which is what tests want.
package fakedevice

import "github.com/ollama-fork/gpuinfer/gpu"

func init() {
	gpu.RegisterBackend("fake", New)
}

// Backend implements gpu.Backend entirely in host memory.
type Backend struct {
	cap gpu.Capability
}

// New constructs a fake Backend. params is accepted to match the
// gpu.RegisterBackend factory signature but is unused; every fake device
// reports the same fixed capability set.
func New(params any) (gpu.Backend, error) {
	return &Backend{cap: gpu.Capability{
		HasF16:                true,
		HasSubgroups:          true,
		MaxSharedMemBytes:     64 * 1024,
		MaxStorageBufferBytes: 1 << 30,
		Fingerprint:           "fakedevice-v1",
	}}, nil
}

func (b *Backend) Capability() gpu.Capability { return b.cap }

func (b *Backend) NewEncoder() gpu.Encoder { return &encoder{} }

func (b *Backend) Close() {}

// Allocate implements gpu.Allocator: a zeroed byte slice of size bytes.
func (b *Backend) Allocate(size int64, dtype gpu.DType, usage gpu.UsageFlags, label string) (gpu.Native, error) {
	return &native{data: make([]byte, size)}, nil
}

// ReadBack implements gpu.Allocator: a defensive copy of the first byteLen
// bytes, matching the real backend's "valid until the next call" contract
// even though nothing here actually reuses a staging buffer.
func (b *Backend) ReadBack(n gpu.Native, byteLen int64) ([]byte, error) {
	nb := n.(*native)
	out := make([]byte, byteLen)
	copy(out, nb.data[:byteLen])
	return out, nil
}

// Upload implements gpu.Allocator: copies data into the start of n's
// backing slice.
func (b *Backend) Upload(n gpu.Native, data []byte) error {
	nb := n.(*native)
	copy(nb.data, data)
	return nil
}

// native implements gpu.Native as a host byte slice.
type native struct {
	data []byte
}

func (n *native) Size() int64 { return int64(len(n.data)) }
func (n *native) Destroy()    { n.data = nil }
