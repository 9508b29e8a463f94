package fakedevice

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpuerr"
)

// execute runs the CPU equivalent of the named shader variant against
// bindings/workgroups, using the exact shape arithmetic each kernel/*.go
// call site relies on (workgroup dims carry row/token counts; params
// buffers carry the scalars a workgroup triple can't, per the kernel
// package's rec.Upload additions). Variant suffixes that pick a tiling or
// dtype specialization (e.g. "attention.tiled_large_f16kv") are ignored
// here, including those gpu/wgpu has no shader template for; only the
// family before the first '.' selects behavior, with two
// exceptions (the two activation.* shapes) matched on the full name.
func execute(variant string, bindings []*gpu.Buffer, workgroups [3]uint32) error {
	switch variant {
	case "activation.silu_gated":
		return siluGated(bindings)
	case "activation.silu_gated_fused":
		return siluGatedFused(bindings, workgroups)
	}

	family, _, _ := strings.Cut(variant, ".")
	switch family {
	case "", "noop":
		return nil
	case "rmsnorm":
		return rmsnorm(bindings)
	case "rope":
		return rope(bindings, workgroups)
	case "matmul":
		return matmul(bindings)
	case "softmax_topk":
		return softmaxTopK(bindings, workgroups)
	case "scatter_add":
		return scatterAdd(bindings)
	case "dequant":
		return nil // block decode intentionally unimplemented, see DESIGN.md
	case "embed":
		return embedGather(bindings, workgroups)
	case "kvcache":
		return kvcacheAppend(bindings, workgroups)
	case "residual":
		return residualAdd(bindings)
	case "elementwise":
		return scale(bindings)
	case "moe":
		return moeGather(bindings, workgroups)
	case "attention":
		return attention(bindings, workgroups)
	default:
		return nil
	}
}

func bytesOf(b *gpu.Buffer) []byte {
	n := b.Native().(*native)
	return n.data[:b.Size()]
}

func getF32(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func setF32(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
}

func getU32(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*4:])
}

func numF32(b []byte) int { return len(b) / 4 }

func silu(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}

func siluGated(bindings []*gpu.Buffer) error {
	gate, up, out := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2])
	n := numF32(out)
	for i := 0; i < n; i++ {
		setF32(out, i, silu(getF32(gate, i))*getF32(up, i))
	}
	return nil
}

func siluGatedFused(bindings []*gpu.Buffer, workgroups [3]uint32) error {
	fused, out := bytesOf(bindings[0]), bytesOf(bindings[1])
	rows := int(workgroups[1])
	inner := numF32(out) / rows
	for r := 0; r < rows; r++ {
		base := r * 2 * inner
		for i := 0; i < inner; i++ {
			g := getF32(fused, base+i)
			u := getF32(fused, base+inner+i)
			setF32(out, r*inner+i, silu(g)*u)
		}
	}
	return nil
}

// rmsnormEpsDefault backstops rows where eps wasn't uploaded (it always
// is from kernel.RMSNorm; this only matters for hand-built test bindings).
const rmsnormEpsDefault = 1e-5

func rmsnorm(bindings []*gpu.Buffer) error {
	x, w, out := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2])
	eps := float32(rmsnormEpsDefault)
	if len(bindings) > 3 {
		eps = getF32(bytesOf(bindings[3]), 0)
	}

	hidden := numF32(w)
	rows := numF32(out) / hidden
	for r := 0; r < rows; r++ {
		base := r * hidden
		var sumsq float32
		for i := 0; i < hidden; i++ {
			v := getF32(x, base+i)
			sumsq += v * v
		}
		rms := float32(math.Sqrt(float64(sumsq/float32(hidden) + eps)))
		for i := 0; i < hidden; i++ {
			setF32(out, base+i, (getF32(x, base+i)/rms)*getF32(w, i))
		}
	}
	return nil
}

func rope(bindings []*gpu.Buffer, workgroups [3]uint32) error {
	qk, cos, sin := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2])
	var startPos uint32
	if len(bindings) > 3 {
		startPos = getU32(bytesOf(bindings[3]), 0)
	}

	halfDim := int(workgroups[0])
	numHeads := int(workgroups[1])
	tokens := int(workgroups[2])

	for token := 0; token < tokens; token++ {
		pos := int(startPos) + token
		for head := 0; head < numHeads; head++ {
			base := (token*numHeads + head) * (halfDim * 2)
			for pair := 0; pair < halfDim; pair++ {
				c := getF32(cos, pos*halfDim+pair)
				s := getF32(sin, pos*halfDim+pair)
				a := getF32(qk, base+pair)
				b := getF32(qk, base+halfDim+pair)
				setF32(qk, base+pair, a*c-b*s)
				setF32(qk, base+halfDim+pair, a*s+b*c)
			}
		}
	}
	return nil
}

// matmul computes c[m,n] = a[m,k] @ b[n,k]^T. Only f32 b is supported;
// every current call site dequantizes a weight before reaching Matmul, so
// a quantized b here indicates a caller this test double doesn't model.
func matmul(bindings []*gpu.Buffer) error {
	a, b, out := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2])
	if bindings[1].DType() != gpu.DTypeF32 {
		return &gpuerr.ShapeError{Op: "fakedevice.matmul", Detail: "only f32 weights are supported by this test backend"}
	}

	var m, k, n int
	if len(bindings) > 3 {
		dims := bytesOf(bindings[3])
		m, k, n = int(getU32(dims, 0)), int(getU32(dims, 1)), int(getU32(dims, 2))
	} else {
		// Best-effort recovery for hand-built test bindings without a dims
		// buffer: exact only when a*b*out element counts admit one solution.
		aN, bN, outN := float64(numF32(a)), float64(numF32(b)), float64(numF32(out))
		kf := math.Sqrt(aN * bN / outN)
		k = int(math.Round(kf))
		if k == 0 {
			return &gpuerr.ShapeError{Op: "fakedevice.matmul", Detail: "cannot recover matmul shape without a dims buffer"}
		}
		m, n = numF32(a)/k, numF32(b)/k
	}

	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			var acc float32
			for ki := 0; ki < k; ki++ {
				acc += getF32(a, row*k+ki) * getF32(b, col*k+ki)
			}
			setF32(out, row*n+col, acc)
		}
	}
	return nil
}

func softmaxTopK(bindings []*gpu.Buffer, workgroups [3]uint32) error {
	logits := bytesOf(bindings[0])
	indices := bytesOf(bindings[1])
	weights := bytesOf(bindings[2])
	normalize := len(bindings) > 3 && getU32(bytesOf(bindings[3]), 0) == 1

	numTokens := int(workgroups[0])
	if numTokens == 0 {
		return nil
	}
	numExperts := numF32(logits) / numTokens
	topK := numF32(indices) / numTokens

	for t := 0; t < numTokens; t++ {
		base := t * numExperts
		maxv := float32(math.Inf(-1))
		for e := 0; e < numExperts; e++ {
			if v := getF32(logits, base+e); v > maxv {
				maxv = v
			}
		}
		var sum float32
		for e := 0; e < numExperts; e++ {
			sum += float32(math.Exp(float64(getF32(logits, base+e) - maxv)))
		}

		used := make([]bool, numExperts)
		var wsum float32
		for kk := 0; kk < topK; kk++ {
			best, bestv := -1, float32(math.Inf(-1))
			for e := 0; e < numExperts; e++ {
				if used[e] {
					continue
				}
				if v := getF32(logits, base+e); v > bestv {
					bestv, best = v, e
				}
			}
			used[best] = true
			w := float32(math.Exp(float64(bestv-maxv))) / sum
			binary.LittleEndian.PutUint32(indices[(t*topK+kk)*4:], uint32(best))
			setF32(weights, t*topK+kk, w)
			wsum += w
		}
		if normalize && wsum != 0 {
			for kk := 0; kk < topK; kk++ {
				setF32(weights, t*topK+kk, getF32(weights, t*topK+kk)/wsum)
			}
		}
	}
	return nil
}

func scatterAdd(bindings []*gpu.Buffer) error {
	expertOutputs := bytesOf(bindings[0])
	weights := bytesOf(bindings[1])
	tokenOffsets := bytesOf(bindings[2])
	y := bytesOf(bindings[3])

	numPairs := numF32(weights)
	hidden := numF32(expertOutputs) / numPairs
	for p := 0; p < numPairs; p++ {
		off := int(getU32(tokenOffsets, p))
		w := getF32(weights, p)
		for i := 0; i < hidden; i++ {
			setF32(y, off*hidden+i, getF32(y, off*hidden+i)+getF32(expertOutputs, p*hidden+i)*w)
		}
	}
	return nil
}

func embedGather(bindings []*gpu.Buffer, workgroups [3]uint32) error {
	ids, table, out := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2])
	numTokens := int(workgroups[1])
	hidden := numF32(out) / numTokens
	for t := 0; t < numTokens; t++ {
		id := int(getU32(ids, t))
		copy(out[t*hidden*4:(t+1)*hidden*4], table[id*hidden*4:(id+1)*hidden*4])
	}
	return nil
}

func kvcacheAppend(bindings []*gpu.Buffer, workgroups [3]uint32) error {
	src, dst := bytesOf(bindings[0]), bytesOf(bindings[1])
	rowWidth := int(workgroups[0])
	numTokens := int(workgroups[1])

	capacity, startPos := uint32(0), uint32(0)
	if len(bindings) > 2 {
		ring := bytesOf(bindings[2])
		capacity, startPos = getU32(ring, 0), getU32(ring, 1)
	}
	if capacity == 0 {
		capacity = uint32(numF32(dst) / rowWidth)
	}

	for token := 0; token < numTokens; token++ {
		slot := int((startPos + uint32(token)) % capacity)
		copy(dst[slot*rowWidth*4:(slot+1)*rowWidth*4], src[token*rowWidth*4:(token+1)*rowWidth*4])
	}
	return nil
}

func residualAdd(bindings []*gpu.Buffer) error {
	a, b, out := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2])
	n := numF32(out)
	for i := 0; i < n; i++ {
		setF32(out, i, getF32(a, i)+getF32(b, i))
	}
	return nil
}

func scale(bindings []*gpu.Buffer) error {
	x, factor, out := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2])
	f := getF32(factor, 0)
	n := numF32(out)
	for i := 0; i < n; i++ {
		setF32(out, i, getF32(x, i)*f)
	}
	return nil
}

func moeGather(bindings []*gpu.Buffer, workgroups [3]uint32) error {
	x, tokenIndices, out := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2])
	numPairs := int(workgroups[1])
	hidden := numF32(out) / numPairs
	for p := 0; p < numPairs; p++ {
		tok := int(getU32(tokenIndices, p))
		copy(out[p*hidden*4:(p+1)*hidden*4], x[tok*hidden*4:(tok+1)*hidden*4])
	}
	return nil
}

func attention(bindings []*gpu.Buffer, workgroups [3]uint32) error {
	q, k, v, out := bytesOf(bindings[0]), bytesOf(bindings[1]), bytesOf(bindings[2]), bytesOf(bindings[3])

	heads := int(workgroups[0])
	tokens := int(workgroups[1])

	kvHeads, lkv, startPos, headDim := heads, 0, 0, 0
	window := 0
	if len(bindings) > 4 {
		params := bytesOf(bindings[4])
		kvHeads = int(getU32(params, 0))
		lkv = int(getU32(params, 1))
		startPos = int(getU32(params, 2))
		window = int(int32(getU32(params, 3)))
		headDim = int(getU32(params, 4))
	}
	if headDim == 0 {
		headDim = numF32(q) / (tokens * heads)
	}
	if lkv == 0 {
		lkv = numF32(k) / (kvHeads * headDim)
	}

	scaleFactor := float32(1.0 / math.Sqrt(float64(headDim)))
	groupSize := heads / kvHeads

	for token := 0; token < tokens; token++ {
		qpos := startPos + token
		for head := 0; head < heads; head++ {
			kvHead := head / groupSize

			m := float32(math.Inf(-1))
			var l float32
			acc := make([]float32, headDim)

			for j := 0; j < lkv; j++ {
				if j > qpos {
					continue
				}
				if window > 0 && qpos-j >= window {
					continue
				}

				var dot float32
				for d := 0; d < headDim; d++ {
					dot += getF32(q, (token*heads+head)*headDim+d) * getF32(k, (j*kvHeads+kvHead)*headDim+d)
				}
				score := dot * scaleFactor

				newM := m
				if score > newM {
					newM = score
				}
				scaleOld := float32(math.Exp(float64(m - newM)))
				pWeight := float32(math.Exp(float64(score - newM)))
				l = l*scaleOld + pWeight
				for d := 0; d < headDim; d++ {
					acc[d] = acc[d]*scaleOld + pWeight*getF32(v, (j*kvHeads+kvHead)*headDim+d)
				}
				m = newM
			}

			for d := 0; d < headDim; d++ {
				val := float32(0)
				if l != 0 {
					val = acc[d] / l
				}
				setF32(out, (token*heads+head)*headDim+d, val)
			}
		}
	}
	return nil
}
