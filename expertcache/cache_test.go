package expertcache

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"testing"
)

// These tests work against a hand-built order map, avoiding a real
// *gpu.Device. TestBudgetNeverExceeded calls makeRoomLocked directly on a
// cache where nothing is evictable; TestEvictionSkipsInUseAndPinned checks
// the evictability rule (not in use, not pinned) in its own loop over the
// map and does not call makeRoomLocked.

func TestBudgetNeverExceeded(t *testing.T) {
	c := &Cache{budget: 50, order: orderedmap.New[Key, *entry]()}
	c.order.Set(Key{Layer: 0, Expert: 0}, &entry{bytes: 30, inUse: 1})
	c.order.Set(Key{Layer: 0, Expert: 1}, &entry{bytes: 20, pinned: true})
	c.used = 50

	// Every resident entry is either in-use or pinned, so a request for 10
	// more bytes must fail rather than silently exceed the budget.
	if err := c.makeRoomLocked(10); err == nil {
		t.Fatal("expected ErrResourceExhausted when nothing is evictable, got nil")
	}
	if c.used != 50 {
		t.Fatalf("used changed on a failed eviction: got %d, want 50", c.used)
	}
}

func TestEvictionSkipsInUseAndPinned(t *testing.T) {
	c := &Cache{budget: 50, order: orderedmap.New[Key, *entry]()}

	busy := Key{Layer: 0, Expert: 0}
	pinned := Key{Layer: 0, Expert: 1}
	free := Key{Layer: 0, Expert: 2}

	c.order.Set(busy, &entry{bytes: 20, inUse: 1})
	c.order.Set(pinned, &entry{bytes: 20, pinned: true})
	c.order.Set(free, &entry{bytes: 10})

	evictable := 0
	for pair := c.order.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.inUse == 0 && !pair.Value.pinned {
			evictable++
			if pair.Key != free {
				t.Fatalf("expected only %v to be evictable, also saw %v", free, pair.Key)
			}
		}
	}
	if evictable != 1 {
		t.Fatalf("expected exactly one evictable entry, got %d", evictable)
	}
}
