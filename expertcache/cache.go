// Package expertcache implements the MoE expert-weight cache of spec.md
// §4.5: a device-memory budget shared across all layers' experts, evicting
// least-recently-used weights to make room for newly routed ones while
// never evicting an expert still in use by an in-flight forward pass or
// pinned as an always-active shared expert.
//
// Grounded on the teacher's kvcache eviction idiom (kvcache's sliding
// window trims cells outside a budget the same way this trims experts
// outside a byte budget) generalized to an explicit LRU order via
// github.com/wk8/go-ordered-map/v2, since the teacher has no analog of a
// cache keyed by arbitrary (layer, expert) pairs — MoE expert paging has no
// teacher code path to imitate directly (see DESIGN.md).
package expertcache

import (
	"context"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ollama-fork/gpuinfer/gpu"
	"github.com/ollama-fork/gpuinfer/gpuerr"
)

// Key identifies one expert's weight set.
type Key struct {
	Layer  int
	Expert int
}

func (k Key) groupKey() string { return fmt.Sprintf("%d:%d", k.Layer, k.Expert) }

// Loader fetches an expert's weights from backing storage (the adapter
// layer's shard reader) into device memory, returning the buffer and its
// resident byte size.
type Loader func(ctx context.Context, dev *gpu.Device, key Key) (buf *gpu.Buffer, bytes int64, err error)

type entry struct {
	buf      *gpu.Buffer
	bytes    int64
	inUse    int
	pinned   bool
}

// Cache is the expert-weight cache entity of spec.md §4.5.
type Cache struct {
	dev    *gpu.Device
	load   Loader
	budget int64

	mu    sync.Mutex
	used  int64
	order *orderedmap.OrderedMap[Key, *entry]
	group singleflight.Group
}

// NewCache creates a cache bounded to budgetBytes of resident expert
// weights, fetching misses through load.
func NewCache(dev *gpu.Device, budgetBytes int64, load Loader) *Cache {
	return &Cache{
		dev:    dev,
		load:   load,
		budget: budgetBytes,
		order:  orderedmap.New[Key, *entry](),
	}
}

// EnsureLoaded returns key's weight buffer, loading it on a miss and
// evicting least-recently-used unpinned, not-in-use entries to make room.
// Concurrent calls for the same key are coalesced via singleflight so a
// hot expert is never loaded twice in parallel.
func (c *Cache) EnsureLoaded(ctx context.Context, key Key) (*gpu.Buffer, error) {
	c.mu.Lock()
	if e, ok := c.order.Get(key); ok {
		c.order.Delete(key)
		c.order.Set(key, e)
		c.mu.Unlock()
		return e.buf, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.groupKey(), func() (any, error) {
		buf, bytes, err := c.load(ctx, c.dev, key)
		if err != nil {
			return nil, &gpuerr.AdapterError{Adapter: "expertcache.load", Err: err}
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if err := c.makeRoomLocked(bytes); err != nil {
			c.dev.Pool().Release(buf)
			return nil, err
		}

		e := &entry{buf: buf, bytes: bytes}
		c.order.Set(key, e)
		c.used += bytes
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gpu.Buffer), nil
}

// makeRoomLocked evicts LRU, unpinned, not-in-use entries until adding
// needBytes would fit the budget, or returns ErrResourceExhausted if it
// cannot free enough. Caller must hold c.mu.
func (c *Cache) makeRoomLocked(needBytes int64) error {
	for c.used+needBytes > c.budget {
		pair := c.order.Oldest()
		freedAny := false
		for pair != nil {
			if pair.Value.inUse == 0 && !pair.Value.pinned {
				c.dev.Pool().Release(pair.Value.buf)
				c.used -= pair.Value.bytes
				c.order.Delete(pair.Key)
				freedAny = true
				break
			}
			pair = pair.Next()
		}
		if !freedAny {
			return fmt.Errorf("%w: expert cache cannot free %d bytes within a %d byte budget (%d in use)", gpuerr.ErrResourceExhausted, needBytes, c.budget, c.used)
		}
	}
	return nil
}

// MarkInUse pins key against eviction for the duration of the current
// forward pass. Must be paired with MarkNotInUse once the pass's recorder
// has been submitted and observed complete.
func (c *Cache) MarkInUse(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.order.Get(key); ok {
		e.inUse++
	}
}

// MarkNotInUse releases the in-use hold taken by MarkInUse.
func (c *Cache) MarkNotInUse(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.order.Get(key); ok && e.inUse > 0 {
		e.inUse--
	}
}

// PinShared marks key as an always-resident shared expert (spec.md §4.6's
// moe.Config.SharedExperts), exempt from eviction until the cache itself is
// closed.
func (c *Cache) PinShared(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.order.Get(key); ok {
		e.pinned = true
	}
}

// Prefetch best-effort loads key without blocking the caller on its
// result; errors are discarded since prefetch is purely an optimization.
func (c *Cache) Prefetch(ctx context.Context, key Key) {
	go func() { _, _ = c.EnsureLoaded(ctx, key) }()
}

// BudgetBytes and ResidentBytes report cache occupancy for telemetry.
func (c *Cache) BudgetBytes() int64 { return c.budget }

func (c *Cache) ResidentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Close releases every resident expert buffer back to the device pool.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pair := c.order.Oldest(); pair != nil; pair = pair.Next() {
		c.dev.Pool().Release(pair.Value.buf)
	}
	c.order = orderedmap.New[Key, *entry]()
	c.used = 0
}
