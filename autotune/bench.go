package autotune

import "time"

// Run is supplied by the caller (gpu/dispatch or kernel callers) to execute
// one dispatch at a candidate workgroup size and return once the GPU has
// completed it, so Bench can time it.
type Run func(workgroupSize int) error

// candidateSizes are the matmul workgroup sizes benchmarked on first use
// for a given shape bucket, per spec.md §9 ("Matmul gets a real benchmark
// loop").
var candidateSizes = []int{64, 128, 256, 512}

// Bench times each candidate size via run and records the fastest to the
// store under key. Errors from individual candidates are skipped (a
// candidate too large for the device capability will fail to dispatch);
// Bench only fails if every candidate errors.
func (s *Store) Bench(key Key, run Run) (int, error) {
	best := -1
	var bestDur time.Duration

	var lastErr error
	for _, size := range candidateSizes {
		start := time.Now()
		if err := run(size); err != nil {
			lastErr = err
			continue
		}
		d := time.Since(start)
		if best == -1 || d < bestDur {
			best = size
			bestDur = d
		}
	}

	if best == -1 {
		return 0, lastErr
	}

	_ = s.Record(key, best)
	return best, nil
}
