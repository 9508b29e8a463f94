package wgpu

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/ollama-fork/gpuinfer/gpu"
)

// nativeBuffer adapts a hal.Buffer to gpu.Native.
type nativeBuffer struct {
	buf  hal.Buffer
	size int64
}

func (n *nativeBuffer) Size() int64 { return n.size }
func (n *nativeBuffer) Destroy()    { n.buf.Destroy() }

func toHALUsage(u gpu.UsageFlags) hal.BufferUsage {
	var out hal.BufferUsage
	if u&gpu.UsageStorageRead != 0 || u&gpu.UsageStorageWrite != 0 {
		out |= hal.BufferUsageStorage
	}
	if u&gpu.UsageCopySrc != 0 {
		out |= hal.BufferUsageCopySrc
	}
	if u&gpu.UsageCopyDst != 0 {
		out |= hal.BufferUsageCopyDst
	}
	return out
}

// Allocate implements gpu.Allocator.
func (b *Backend) Allocate(size int64, dtype gpu.DType, usage gpu.UsageFlags, label string) (gpu.Native, error) {
	buf, err := b.device.CreateBuffer(hal.BufferDescriptor{
		Label:            label,
		Size:             uint64(size),
		Usage:            toHALUsage(usage),
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: allocate %d bytes (%s) for %q: %w", size, dtype, label, err)
	}
	return &nativeBuffer{buf: buf, size: size}, nil
}

// Upload implements gpu.Allocator: copy data into n via a mapped staging
// buffer and a device-side copy, since storage buffers created without
// MappedAtCreation cannot be written from the host directly.
func (b *Backend) Upload(n gpu.Native, data []byte) error {
	nb, ok := n.(*nativeBuffer)
	if !ok {
		return fmt.Errorf("wgpu: Upload called with foreign buffer handle")
	}

	staging, err := b.device.CreateBuffer(hal.BufferDescriptor{
		Label:            "upload-staging",
		Size:             uint64(len(data)),
		Usage:            hal.BufferUsageCopySrc | hal.BufferUsageMapWrite,
		MappedAtCreation: true,
	})
	if err != nil {
		return fmt.Errorf("wgpu: upload staging alloc: %w", err)
	}
	defer staging.Destroy()

	mapped, err := staging.MapWrite()
	if err != nil {
		return fmt.Errorf("wgpu: upload map: %w", err)
	}
	copy(mapped, data)
	staging.Unmap()

	enc, err := b.device.CreateCommandEncoder(hal.CommandEncoderDescriptor{Label: "upload"})
	if err != nil {
		return fmt.Errorf("wgpu: upload encoder: %w", err)
	}
	enc.CopyBufferToBuffer(staging, 0, nb.buf, 0, uint64(len(data)))

	sub := b.queue.Submit(enc.Finish())
	if err := sub.Wait(); err != nil {
		return fmt.Errorf("wgpu: upload submit: %w", err)
	}
	return nil
}

// ReadBack implements gpu.Allocator: copy byteLen bytes from n to a staging
// buffer, map it, and return a copy of the mapped range. The staging
// buffer is destroyed before returning, which is why the bytes are copied
// out rather than referencing the mapped range directly — the mapped range
// becomes invalid memory the instant the staging buffer is destroyed.
func (b *Backend) ReadBack(n gpu.Native, byteLen int64) ([]byte, error) {
	nb, ok := n.(*nativeBuffer)
	if !ok {
		return nil, fmt.Errorf("wgpu: ReadBack called with foreign buffer handle")
	}

	staging, err := b.device.CreateBuffer(hal.BufferDescriptor{
		Label:            "readback-staging",
		Size:             uint64(byteLen),
		Usage:            hal.BufferUsageCopyDst | hal.BufferUsageMapRead,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: readback staging alloc: %w", err)
	}
	defer staging.Destroy()

	enc, err := b.device.CreateCommandEncoder(hal.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: readback encoder: %w", err)
	}
	enc.CopyBufferToBuffer(nb.buf, 0, staging, 0, uint64(byteLen))

	sub := b.queue.Submit(enc.Finish())
	if err := sub.Wait(); err != nil {
		return nil, fmt.Errorf("wgpu: readback submit: %w", err)
	}

	mapped, err := staging.MapRead()
	if err != nil {
		return nil, fmt.Errorf("wgpu: readback map: %w", err)
	}
	defer staging.Unmap()

	out := make([]byte, byteLen)
	copy(out, mapped)
	return out, nil
}
