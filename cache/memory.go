package cache

import (
	"container/list"
	"image"
	"sync"
	"sync/atomic"
)

type memoryEntry struct {
	key   Key
	image image.Image
	cost  int64
}

// MemoryStats is a snapshot of the memory tier counters.
type MemoryStats struct {
	Entries    int   `json:"entries"`
	Cost       int64 `json:"cost"`
	CountLimit int   `json:"count_limit"`
	CostLimit  int64 `json:"cost_limit"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
}

// MemoryTier is a bounded LRU of decoded thumbnails. It evicts the least
// recently used entries until both the count and the cost limit hold.
type MemoryTier struct {
	mu         sync.Mutex
	countLimit int
	costLimit  int64
	cost       int64
	items      map[Key]*list.Element
	evictList  *list.List

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewMemoryTier returns an empty memory tier. A zero limit disables that dimension.
func NewMemoryTier(countLimit int, costLimit int64) *MemoryTier {
	return &MemoryTier{
		countLimit: countLimit,
		costLimit:  costLimit,
		items:      make(map[Key]*list.Element),
		evictList:  list.New(),
	}
}

// ImageCost estimates the decoded footprint of img as width × height × scale × 4.
func ImageCost(img image.Image, scale float64) int64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return int64(float64(b.Dx()*b.Dy()) * scale * 4)
}

// Get returns the image for key and marks it as most recently used.
func (m *MemoryTier) Get(key Key) (image.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.evictList.MoveToFront(el)
		m.hits.Add(1)
		return el.Value.(*memoryEntry).image, true
	}
	m.misses.Add(1)
	return nil, false
}

// Contains reports whether key is present without touching recency or counters.
func (m *MemoryTier) Contains(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

// peek returns the image for key without touching recency or counters.
func (m *MemoryTier) peek(key Key) (image.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		return el.Value.(*memoryEntry).image, true
	}
	return nil, false
}

// Put stores img under key. An image whose cost alone exceeds the cost limit
// is not admitted, and any older value for key is dropped.
func (m *MemoryTier) Put(key Key, img image.Image, cost int64) {
	if img == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
	if m.costLimit > 0 && cost > m.costLimit {
		return
	}
	el := m.evictList.PushFront(&memoryEntry{key: key, image: img, cost: cost})
	m.items[key] = el
	m.cost += cost
	m.evict()
}

// Invalidate removes key and reports whether it was present.
func (m *MemoryTier) Invalidate(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if ok {
		m.removeElement(el)
	}
	return ok
}

// Purge removes every entry.
func (m *MemoryTier) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[Key]*list.Element)
	m.evictList.Init()
	m.cost = 0
}

// Len returns the number of entries.
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Cost returns the summed cost of all entries.
func (m *MemoryTier) Cost() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cost
}

// Stats returns a snapshot of the memory tier counters.
func (m *MemoryTier) Stats() MemoryStats {
	m.mu.Lock()
	entries, cost := m.evictList.Len(), m.cost
	m.mu.Unlock()
	return MemoryStats{
		Entries:    entries,
		Cost:       cost,
		CountLimit: m.countLimit,
		CostLimit:  m.costLimit,
		Hits:       m.hits.Load(),
		Misses:     m.misses.Load(),
		Evictions:  m.evictions.Load(),
	}
}

// must hold lock
func (m *MemoryTier) evict() {
	for m.overLimit() {
		el := m.evictList.Back()
		if el == nil {
			return
		}
		m.removeElement(el)
		m.evictions.Add(1)
	}
}

func (m *MemoryTier) overLimit() bool {
	if m.countLimit > 0 && m.evictList.Len() > m.countLimit {
		return true
	}
	return m.costLimit > 0 && m.cost > m.costLimit
}

func (m *MemoryTier) removeElement(el *list.Element) {
	m.evictList.Remove(el)
	ent := el.Value.(*memoryEntry)
	delete(m.items, ent.key)
	m.cost -= ent.cost
}
