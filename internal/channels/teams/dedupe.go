package teams

import "sync"

// dedupeCapacity bounds the recent-id cache. Bot Framework redelivers on
// missed acks within minutes; 4096 ids comfortably covers that window.
const dedupeCapacity = 4096

// dedupeCache remembers recently seen activity ids. Check/Mark give
// at-most-once publish per id within the cache window; it is not
// exactly-once across process restarts.
type dedupeCache struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newDedupeCache() *dedupeCache {
	return &dedupeCache{
		ids:  make(map[string]struct{}, dedupeCapacity),
		ring: make([]string, dedupeCapacity),
	}
}

// Check reports whether the id is already recorded. It never records: ids
// are marked only after the event's side effects are durable, so a
// redelivery after a storage failure is processed instead of suppressed.
func (d *dedupeCache) Check(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// Mark records the id, evicting the oldest entry when the ring is full.
func (d *dedupeCache) Mark(id string) {
	if id == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.ids[id]; ok {
		return
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.ids, old)
	}
	d.ring[d.next] = id
	d.next = (d.next + 1) % dedupeCapacity
	d.ids[id] = struct{}{}
}
