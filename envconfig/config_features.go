package envconfig

// ContextLength caps a manifest's max sequence length: a manifest value
// larger than it is lowered to it. Configurable via GPUINFER_CONTEXT_LENGTH.
var ContextLength = Uint("GPUINFER_CONTEXT_LENGTH", 4096)

// GpuOverhead reserves a portion of VRAM per device (bytes), kept free of
// the buffer pool's acquisitions. Configurable via GPUINFER_GPU_OVERHEAD.
var GpuOverhead = Uint64("GPUINFER_GPU_OVERHEAD", 0)
