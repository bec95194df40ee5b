package assistant

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultDedupCapacity is how many message ids a Deduplicator remembers.
const DefaultDedupCapacity = 1000

// Deduplicator remembers recently seen message ids. When it grows past its
// capacity it forgets the oldest half.
type Deduplicator struct {
	mu       sync.Mutex
	seen     *orderedmap.OrderedMap[string, struct{}]
	capacity int
}

// NewDeduplicator creates a Deduplicator. A non-positive capacity selects
// DefaultDedupCapacity.
func NewDeduplicator(capacity int) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Deduplicator{seen: orderedmap.New[string, struct{}](), capacity: capacity}
}

// Seen records id and reports whether it was already present.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen.Get(id); ok {
		return true
	}
	d.seen.Set(id, struct{}{})
	if d.seen.Len() > d.capacity {
		for drop := d.seen.Len() / 2; drop > 0; drop-- {
			d.seen.Delete(d.seen.Oldest().Key)
		}
	}
	return false
}

// Len returns the number of remembered ids.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Len()
}
