package wgpu

import (
	"context"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/ollama-fork/gpuinfer/gpu"
)

// encoder implements gpu.Encoder over one hal.CommandEncoder. It defers
// bind-group creation until DispatchCompute is called, since the buffer
// set for a kernel is only known at call time.
type encoder struct {
	backend *Backend
	enc     hal.CommandEncoder
	pass    hal.ComputePassEncoder
	err     error
}

// NewEncoder implements gpu.Backend.
func (b *Backend) NewEncoder() gpu.Encoder {
	enc, err := b.device.CreateCommandEncoder(hal.CommandEncoderDescriptor{Label: "forward"})
	if err != nil {
		return &encoder{backend: b, err: fmt.Errorf("wgpu: create encoder: %w", err)}
	}
	pass := enc.BeginComputePass(hal.ComputePassDescriptor{Label: "forward"})
	return &encoder{backend: b, enc: enc, pass: pass}
}

func (e *encoder) DispatchCompute(variant string, bindings []*gpu.Buffer, workgroups [3]uint32) {
	if e.err != nil {
		return
	}

	pipeline, err := e.backend.pipelineFor(variant)
	if err != nil {
		e.err = err
		return
	}

	entries := make([]hal.BindGroupEntry, len(bindings))
	for i, buf := range bindings {
		nb, ok := buf.Native().(*nativeBuffer)
		if !ok {
			e.err = fmt.Errorf("wgpu: dispatch %q: binding %d is a foreign buffer handle", variant, i)
			return
		}
		entries[i] = hal.BindGroupEntry{Binding: uint32(i), Buffer: nb.buf, Size: uint64(buf.Size())}
	}

	bg, err := e.backend.device.CreateBindGroup(hal.BindGroupDescriptor{
		Label:   variant,
		Layout:  pipeline.BindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		e.err = fmt.Errorf("wgpu: dispatch %q: bind group: %w", variant, err)
		return
	}

	e.pass.SetPipeline(pipeline)
	e.pass.SetBindGroup(0, bg, nil)
	e.pass.DispatchWorkgroups(workgroups[0], workgroups[1], workgroups[2])
}

func (e *encoder) Submit() gpu.Submission {
	if e.err != nil {
		return submission{err: e.err}
	}

	e.pass.End()
	cmd := e.enc.Finish()
	sub := e.backend.queue.Submit(cmd)
	return submission{sub: sub}
}

type submission struct {
	sub hal.SubmissionIndex
	err error
}

func (s submission) Await(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}

	done := make(chan error, 1)
	go func() { done <- s.sub.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
