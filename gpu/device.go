package gpu

import "fmt"

// Backend is the concrete compute-shader binding (gpu/wgpu.Backend
// implements it). It is registered at init() time and selected by name,
// mirroring the teacher's ml.RegisterBackend/ml.NewBackend pair
// (ml/backend.go) which lets exactly one cgo backend ("ggml") register
// itself; here the registry exists so a test double
// (gpu/fakedevice.Backend) can stand in without an import cycle.
type Backend interface {
	Allocator

	Capability() Capability
	NewEncoder() Encoder

	// Close releases process-wide backend resources (the queue, any
	// persistent descriptor pools). Called once at shutdown.
	Close()
}

var backends = make(map[string]func(params any) (Backend, error))

// RegisterBackend registers a backend factory under name. Panics on a
// duplicate registration, matching ml.RegisterBackend's panic-on-redefine
// contract (a programming error, not a runtime condition).
func RegisterBackend(name string, f func(params any) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("gpu: backend already registered: " + name)
	}
	backends[name] = f
}

// Device owns the GPU queue (via its Backend), the capability set, and the
// process-scoped buffer pool. Created once at startup, destroyed at
// shutdown, per spec.md §3's Device handle entity.
type Device struct {
	backend Backend
	cap     Capability
	pool    *Pool
}

// NewDevice constructs a Device from a registered backend name.
func NewDevice(backendName string, params any) (*Device, error) {
	f, ok := backends[backendName]
	if !ok {
		return nil, fmt.Errorf("gpu: unsupported backend %q", backendName)
	}

	b, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("gpu: backend %q init: %w", backendName, err)
	}

	d := &Device{backend: b, cap: b.Capability()}
	d.pool = NewPool(b)
	return d, nil
}

func (d *Device) Capability() Capability { return d.cap }
func (d *Device) Pool() *Pool            { return d.pool }

func (d *Device) Close() {
	d.backend.Close()
}
