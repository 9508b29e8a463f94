package gpu

import "context"

// Encoder is the native command-encoder handle, implemented by the
// concrete backend (gpu/wgpu). It accumulates compute-pass dispatches; the
// Recorder never inspects it directly beyond Submit/Await.
type Encoder interface {
	// DispatchCompute records one kernel invocation against already-bound
	// buffers. variant identifies the shader module + entry point chosen
	// by gpu/dispatch; workgroups is the 3D dispatch size.
	DispatchCompute(variant string, bindings []*Buffer, workgroups [3]uint32)
	// Submit finalizes the encoder into a queue submission and returns a
	// handle whose Await blocks (or respects ctx) until the GPU has
	// completed all recorded work.
	Submit() Submission
}

// Submission is the queue-visible handle returned by Encoder.Submit.
type Submission interface {
	Await(ctx context.Context) error
}

// Recorder is the command recorder R of spec.md §3/§4.2: it owns an
// encoder, a list of temporary buffers to release after submission, and
// the bind groups retained for the lifetime of the recording. Exactly one
// Recorder is used per forward phase (prefill or decode), per spec.md §5's
// "one recorder per forward phase" ordering guarantee.
//
// Grounded on the teacher's Context.Compute/Context.Forward split
// (ml/context.go): Forward accumulates graph nodes, Compute executes them
// once. Recorder plays the same role without the cgo graph-node
// abstraction underneath it.
type Recorder struct {
	device *Device
	enc    Encoder

	// temps are buffers registered via Temp, released after Submit
	// observes completion. Registration is an explicit method rather than
	// a destructor because the buffer must outlive the call site that
	// created it (spec.md §9 "Map and ownership of the command recorder").
	temps []*Buffer

	// outputs are buffers returned to callers; never auto-released.
	outputs []*Buffer

	// bound lists every binding Dispatch added a pending reference to, one
	// entry per reference, so Submit and Drop can take each one back.
	bound []*Buffer

	readBackBytes int64
	submitted     bool
}

// NewRecorder begins recording against dev. One Recorder per forward phase.
func (d *Device) NewRecorder() *Recorder {
	return &Recorder{device: d, enc: d.backend.NewEncoder()}
}

// Acquire pulls a buffer from the pool for use as a kernel's output. The
// caller owns the returned buffer; it is NOT released automatically.
func (r *Recorder) Acquire(size int64, dtype DType, label string) (*Buffer, error) {
	b, err := r.device.pool.Acquire(size, dtype, label)
	if err != nil {
		return nil, err
	}
	r.outputs = append(r.outputs, b)
	return b, nil
}

// Temp acquires a buffer intended only to feed one kernel call (e.g. a
// staging buffer for an uploaded mask or positions tensor) and registers
// it for release once this recorder's encoder has been submitted and
// observed complete. It must NOT be released before that, matching
// spec.md §5's "Temporary buffer lifetime" invariant.
func (r *Recorder) Temp(size int64, dtype DType, label string) (*Buffer, error) {
	b, err := r.device.pool.Acquire(size, dtype, label)
	if err != nil {
		return nil, err
	}
	b.pending++
	r.temps = append(r.temps, b)
	return b, nil
}

// Dispatch records one kernel invocation. bindings must include every
// buffer (inputs and output) the shader variant reads or writes; each
// gains a pending reference that Submit clears.
func (r *Recorder) Dispatch(variant string, bindings []*Buffer, workgroups [3]uint32) {
	for _, b := range bindings {
		b.pending++
		r.bound = append(r.bound, b)
	}
	r.enc.DispatchCompute(variant, bindings, workgroups)
}

// Upload acquires a temp buffer sized to data and writes data into it, for
// host-computed kernel inputs (RoPE tables, routing index buffers). The
// returned buffer is released like any other Temp buffer once this
// recorder's encoder has been submitted and observed complete.
func (r *Recorder) Upload(data []byte, dtype DType, label string) (*Buffer, error) {
	b, err := r.Temp(int64(len(data)), dtype, label)
	if err != nil {
		return nil, err
	}
	if err := r.device.pool.Upload(b, data); err != nil {
		return nil, err
	}
	return b, nil
}

// Read issues a device->host readback of b. This is a suspension point
// (spec.md §5) and should be called only at the points the spec allows:
// router token_counts, logits for sampling, or capability probes.
func (r *Recorder) Read(b *Buffer, byteLen int64) ([]byte, error) {
	out, err := r.device.pool.Read(b, byteLen)
	if err != nil {
		return nil, err
	}
	r.readBackBytes += byteLen
	return out, nil
}

// ReadBackBytes reports bytes read back through this recorder so far,
// letting callers enforce spec.md §8's "≤3 host-visible readbacks per
// decode step" invariant in tests without threading a separate counter.
func (r *Recorder) ReadBackBytes() int64 { return r.readBackBytes }

// Submit finalizes the recording: the encoder is submitted to the queue,
// awaited, and every temporary buffer is released back to the pool. Output
// buffers (from Acquire) are left pending-cleared but NOT released; the
// caller owns their lifetime from here.
func (r *Recorder) Submit(ctx context.Context) error {
	if r.submitted {
		panic("gpu: Recorder submitted twice")
	}
	r.submitted = true

	sub := r.enc.Submit()
	if err := sub.Await(ctx); err != nil {
		// Drop without releasing: spec.md §5 cancellation semantics say
		// temporary buffers are released on cancel, but only once the
		// encoder is known to have stopped touching them. A failed Await
		// (including context cancellation) means we cannot prove that, so
		// we leak the temps rather than risk a use-after-free release.
		return err
	}

	for _, b := range r.bound {
		b.pending--
	}
	for _, b := range r.temps {
		b.pending--
		r.device.pool.Release(b)
	}
	for _, b := range r.outputs {
		b.pending = 0
	}

	return nil
}

// Drop cancels the recording without submitting. Per spec.md §5, KV
// positions already written via Dispatch calls in this recorder are NOT
// rolled back; callers must not reuse a cache after a dropped forward pass
// mid-flight. Temporary buffers are released immediately since nothing was
// ever submitted to the queue.
func (r *Recorder) Drop() {
	if r.submitted {
		return
	}
	r.submitted = true
	for _, b := range r.bound {
		b.pending--
	}
	for _, b := range r.temps {
		b.pending--
		r.device.pool.Release(b)
	}
}
