package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync"
	"time"

	"github.com/rbright/calendarize/internal/recurrence"
)

// Cache memoizes source lookups for one request or command run. Keys combine
// the window bounds truncated to the hour with the canonical criteria. Create
// one per scope and call Invalidate when the event set changes.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]recurrence.Event
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string][]recurrence.Event)}
}

func CacheKey(start, end time.Time, criteria Criteria) string {
	sum := sha256.New()
	for _, bound := range []time.Time{start, end} {
		if bound.IsZero() {
			sum.Write([]byte("open"))
		} else {
			sum.Write([]byte(bound.UTC().Truncate(time.Hour).Format("2006010215")))
		}
		sum.Write([]byte{0})
	}
	sum.Write([]byte(criteria.Canonical()))
	return hex.EncodeToString(sum.Sum(nil))
}

func (c *Cache) Get(key string) ([]recurrence.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(events), true
}

func (c *Cache) Put(key string, events []recurrence.Event) {
	stored := slices.Clone(events)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]recurrence.Event)
	}
	c.entries[key] = stored
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]recurrence.Event)
}
