// Reset clears the cache for a new generation, replacing the teacher's
// sequence-scoped Remove/CopyPrefix (kvcache/sequence_ops.go), which exist
// there to let one cache serve several concurrent sequences. This module
// serves exactly one sequence per Cache instance, so starting a new
// generation is just rewinding the cursor; the ring's stale contents are
// harmless since ValidLength bounds every read to what curLen has written
// since the reset.
package kvcache

// Reset rewinds the cache to empty, for starting a fresh generation without
// reallocating layer buffers.
func (c *Cache) Reset() {
	c.curLen = 0
}
