package pipeline

import (
	"encoding/binary"
	"math"

	"github.com/ollama-fork/gpuinfer/gpu"
)

// RoPETable holds precomputed per-position cos/sin values for RoPE,
// uploaded once at load time and shared by every layer that rotates with
// the same base frequency and scaling. Grounded on deepseek2's
// applyRotaryPositionEmbeddings (options.go), reimplemented directly in Go
// since the teacher's version calls into ggml_rope_ext through cgo; the
// YARN correction-range/ramp formula below matches the shape of that call's
// WithOriginalContextLength/WithExtrapolationFactor/WithAttentionFactor
// options.
type RoPETable struct {
	Cos, Sin *gpu.Buffer
	HalfDim  int
}

// BuildRoPETable precomputes cos/sin for positions [0, maxPos) at headDim,
// applying linear or YARN frequency scaling per spec.md §3's
// rope_scaling_kind ("none", "linear", "yarn"). The table is uploaded
// straight to a pool-owned buffer (not a Recorder.Temp) since it must
// outlive every forward pass for the lifetime of the model.
func BuildRoPETable(dev *gpu.Device, kind string, theta, scale float32, headDim, maxPos, origCtxLen int, betaFast, betaSlow float32) (*RoPETable, error) {
	half := headDim / 2

	invFreq := make([]float32, half)
	for i := range invFreq {
		invFreq[i] = 1.0 / float32(math.Pow(float64(theta), float64(2*i)/float64(headDim)))
	}

	attnFactor := float32(1)
	switch kind {
	case "linear":
		for i := range invFreq {
			invFreq[i] /= scale
		}
	case "yarn":
		applyYarnScaling(invFreq, theta, scale, headDim, origCtxLen, betaFast, betaSlow)
		attnFactor = float32(1.0 / (1.0 + 0.1*math.Log(float64(scale))))
	}

	cos := make([]byte, maxPos*half*4)
	sin := make([]byte, maxPos*half*4)
	for pos := 0; pos < maxPos; pos++ {
		for i := 0; i < half; i++ {
			angle := float64(pos) * float64(invFreq[i])
			c := float32(math.Cos(angle)) * attnFactor
			s := float32(math.Sin(angle)) * attnFactor
			off := (pos*half + i) * 4
			binary.LittleEndian.PutUint32(cos[off:off+4], math.Float32bits(c))
			binary.LittleEndian.PutUint32(sin[off:off+4], math.Float32bits(s))
		}
	}

	pool := dev.Pool()
	cosBuf, err := pool.Acquire(int64(len(cos)), gpu.DTypeF32, "rope.cos")
	if err != nil {
		return nil, err
	}
	if err := pool.Upload(cosBuf, cos); err != nil {
		return nil, err
	}
	sinBuf, err := pool.Acquire(int64(len(sin)), gpu.DTypeF32, "rope.sin")
	if err != nil {
		return nil, err
	}
	if err := pool.Upload(sinBuf, sin); err != nil {
		return nil, err
	}

	return &RoPETable{Cos: cosBuf, Sin: sinBuf, HalfDim: half}, nil
}

// applyYarnScaling mixes interpolated and extrapolated frequencies across
// the NTK-by-parts correction range [low, high], the same ramp shape
// llama.cpp's ggml_rope_yarn applies (the teacher's cgo dependency for
// YARN support), reimplemented here in plain Go since there is no cgo
// boundary in this module.
func applyYarnScaling(invFreq []float32, theta, scale float32, headDim, origCtxLen int, betaFast, betaSlow float32) {
	dim := float64(headDim)
	base := float64(theta)
	maxPos := float64(origCtxLen)
	if maxPos <= 0 {
		maxPos = 2048
	}

	correctionDim := func(numRotations float32) float64 {
		return (dim * math.Log(maxPos/(float64(numRotations)*2*math.Pi))) / (2 * math.Log(base))
	}

	low := math.Floor(correctionDim(betaFast))
	high := math.Ceil(correctionDim(betaSlow))
	if low < 0 {
		low = 0
	}
	if high > dim-1 {
		high = dim - 1
	}
	if high == low {
		high += 0.001
	}

	for i := range invFreq {
		extrapolated := invFreq[i]
		interpolated := invFreq[i] / scale

		y := (float64(i) - low) / (high - low)
		if y < 0 {
			y = 0
		}
		if y > 1 {
			y = 1
		}
		ramp := float32(1 - y)

		invFreq[i] = interpolated*(1-ramp) + extrapolated*ramp
	}
}
