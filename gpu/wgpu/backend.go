// Package wgpu is the concrete compute-shader backend: it implements
// gpu.Backend over github.com/gogpu/wgpu/hal, a WebGPU-style hardware
// abstraction layer (device, buffer, compute pipeline, command encoder).
//
// Grounded on the pipeline-cache idiom of gogpu/gg's native backend
// (PipelineCacheCore.GetOrCreateComputePipeline: hash a descriptor, cache
// the compiled pipeline, fall back to creation on miss) — this package
// reuses that shape for shader-variant pipelines keyed by
// gpu/dispatch.Variant instead of a render/compute descriptor hash.
package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/ollama-fork/gpuinfer/gpu"
)

func init() {
	gpu.RegisterBackend("wgpu", newBackend)
}

// Params configures backend construction; passed through gpu.NewDevice's
// opaque params argument.
type Params struct {
	// PreferredAdapter selects a specific physical adapter by name
	// substring (e.g. "NVIDIA", "AMD", "Apple"). Empty picks the
	// high-performance default the HAL reports.
	PreferredAdapter string
}

// Backend implements gpu.Backend over one hal.Device + hal.Queue pair.
type Backend struct {
	instance hal.Instance
	adapter  hal.Adapter
	device   hal.Device
	queue    hal.Queue

	cap gpu.Capability

	mu        sync.Mutex
	pipelines map[string]hal.ComputePipeline
	shaders   map[string]hal.ShaderModule
}

func newBackend(params any) (gpu.Backend, error) {
	p, _ := params.(Params)

	inst, err := hal.CreateInstance(hal.InstanceDescriptor{Backends: hal.BackendsPrimary})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapter, err := inst.RequestAdapter(hal.AdapterOptions{
		PowerPreference: hal.PowerPreferenceHighPerformance,
		AdapterNameHint: p.PreferredAdapter,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: request adapter: %w", err)
	}

	limits := adapter.Limits()
	features := adapter.Features()

	device, queue, err := adapter.RequestDevice(hal.DeviceDescriptor{
		RequiredFeatures: features.Intersect(hal.FeatureShaderF16 | hal.FeatureSubgroups),
		RequiredLimits:   limits,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: request device: %w", err)
	}

	info := adapter.Info()

	b := &Backend{
		instance: inst,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		cap: gpu.Capability{
			HasF16:                features.Contains(hal.FeatureShaderF16),
			HasSubgroups:          features.Contains(hal.FeatureSubgroups),
			MaxSharedMemBytes:     int(limits.MaxComputeWorkgroupStorageSize),
			MaxStorageBufferBytes: int64(limits.MaxStorageBufferBindingSize),
			Fingerprint:           fmt.Sprintf("%s/%s/%d.%d", info.VendorName, info.DeviceName, info.DriverMajor, info.DriverMinor),
		},
		pipelines: make(map[string]hal.ComputePipeline),
		shaders:   make(map[string]hal.ShaderModule),
	}

	return b, nil
}

func (b *Backend) Capability() gpu.Capability { return b.cap }

func (b *Backend) Close() {
	b.mu.Lock()
	for _, p := range b.pipelines {
		p.Destroy()
	}
	for _, s := range b.shaders {
		s.Destroy()
	}
	b.mu.Unlock()

	b.queue.Destroy()
	b.device.Destroy()
	b.adapter.Destroy()
	b.instance.Destroy()
}

// pipelineFor returns the cached compute pipeline for variant, compiling
// it on first use. This is the same get-or-create-with-double-check shape
// as gogpu/gg's PipelineCacheCore, narrowed to compute pipelines only
// (the core never renders).
func (b *Backend) pipelineFor(variant string) (hal.ComputePipeline, error) {
	b.mu.Lock()
	if p, ok := b.pipelines[variant]; ok {
		b.mu.Unlock()
		return p, nil
	}
	b.mu.Unlock()

	shader, err := b.device.CreateShaderModule(hal.ShaderModuleDescriptor{
		Label: variant,
		WGSL:  shaderSource(variant),
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile shader %q: %w", variant, err)
	}

	pipeline, err := b.device.CreateComputePipeline(hal.ComputePipelineDescriptor{
		Label:      variant,
		Module:     shader,
		EntryPoint: "main",
	})
	if err != nil {
		shader.Destroy()
		return nil, fmt.Errorf("wgpu: create pipeline %q: %w", variant, err)
	}

	b.mu.Lock()
	if p, ok := b.pipelines[variant]; ok {
		b.mu.Unlock()
		pipeline.Destroy()
		shader.Destroy()
		return p, nil
	}
	b.shaders[variant] = shader
	b.pipelines[variant] = pipeline
	b.mu.Unlock()

	return pipeline, nil
}
