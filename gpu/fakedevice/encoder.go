package fakedevice

import (
	"context"

	"github.com/ollama-fork/gpuinfer/gpu"
)

// encoder implements gpu.Encoder by executing each dispatch immediately
// against the CPU op table in ops.go, recording the first error for
// Submit to surface (mirroring gpu/wgpu.encoder's err-latching behavior).
type encoder struct {
	err error
}

func (e *encoder) DispatchCompute(variant string, bindings []*gpu.Buffer, workgroups [3]uint32) {
	if e.err != nil {
		return
	}
	e.err = execute(variant, bindings, workgroups)
}

func (e *encoder) Submit() gpu.Submission {
	return submission{err: e.err}
}

type submission struct{ err error }

func (s submission) Await(ctx context.Context) error { return s.err }
