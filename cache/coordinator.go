package cache

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/pixvault/go-common/logger"
	"golang.org/x/sync/semaphore"
)

// Thumbnail is the outcome of one generation: the decoded image for the
// memory tier and its encoded bytes for the disk tier.
type Thumbnail struct {
	Image   image.Image
	Encoded []byte
}

// GenerationStats is a snapshot of the coordinator counters.
type GenerationStats struct {
	InFlight   int   `json:"in_flight"`
	Started    int64 `json:"started"`
	Joined     int64 `json:"joined"`
	Failed     int64 `json:"failed"`
	Active     int64 `json:"active"`
	PeakActive int64 `json:"peak_active"`
}

// generation is one in-flight key and everyone waiting on it.
type generation struct {
	waiters []func(*Thumbnail)
	done    chan struct{}
}

// Coordinator runs at most one generation per key. Callers asking for a key
// that is already generating are queued as waiters and receive the same
// result when it completes.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[Key]*generation
	ctx      context.Context

	memory *MemoryTier
	disk   *DiskTier
	scale  float64
	limit  *semaphore.Weighted
	log    logger.Logger

	started atomic.Int64
	joined  atomic.Int64
	failed  atomic.Int64
	active  atomic.Int64
	peak    atomic.Int64
}

// NewCoordinator returns a coordinator writing successful generations to
// memory and disk. A positive limit caps concurrently running generations.
// Once ctx is done, generations still waiting for the limit fail.
func NewCoordinator(ctx context.Context, memory *MemoryTier, disk *DiskTier, scale float64, limit int64, log logger.Logger) *Coordinator {
	c := &Coordinator{
		inflight: make(map[Key]*generation),
		ctx:      ctx,
		memory:   memory,
		disk:     disk,
		scale:    scale,
		log:      log,
	}
	if limit > 0 {
		c.limit = semaphore.NewWeighted(limit)
	}
	return c
}

// Resolve delivers the thumbnail for key to onResult exactly once, nil on
// failure. If key is already generating, onResult joins that generation.
// Otherwise generate runs on a new goroutine. A key that reached the memory
// tier since the caller last looked is delivered without generating again.
func (c *Coordinator) Resolve(key Key, generate func() *Thumbnail, onResult func(*Thumbnail)) {
	c.mu.Lock()
	if g, ok := c.inflight[key]; ok {
		g.waiters = append(g.waiters, onResult)
		c.mu.Unlock()
		c.joined.Add(1)
		return
	}
	// A finished generation writes memory before leaving the in-flight set.
	if img, ok := c.memory.peek(key); ok {
		c.mu.Unlock()
		c.deliver(key, onResult, &Thumbnail{Image: img})
		return
	}
	g := &generation{waiters: []func(*Thumbnail){onResult}, done: make(chan struct{})}
	c.inflight[key] = g
	c.mu.Unlock()

	c.started.Add(1)
	go c.run(key, g, generate)
}

// InFlight reports whether key is currently generating.
func (c *Coordinator) InFlight(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

// Wait blocks until every generation running when it was called has
// delivered its result, or ctx ends. Generations started later are not
// waited for.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	pending := make([]chan struct{}, 0, len(c.inflight))
	for _, g := range c.inflight {
		pending = append(pending, g.done)
	}
	c.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stats returns a snapshot of the generation counters.
func (c *Coordinator) Stats() GenerationStats {
	c.mu.Lock()
	inflight := len(c.inflight)
	c.mu.Unlock()
	return GenerationStats{
		InFlight:   inflight,
		Started:    c.started.Load(),
		Joined:     c.joined.Load(),
		Failed:     c.failed.Load(),
		Active:     c.active.Load(),
		PeakActive: c.peak.Load(),
	}
}

func (c *Coordinator) run(key Key, g *generation, generate func() *Thumbnail) {
	defer close(g.done)

	var result *Thumbnail
	if c.acquire(key) {
		c.markActive()
		result = c.invoke(key, generate)
		c.active.Add(-1)
		if c.limit != nil {
			c.limit.Release(1)
		}
	}

	if result != nil {
		c.memory.Put(key, result.Image, ImageCost(result.Image, c.scale))
		c.disk.Put(key, result.Encoded)
	} else {
		c.failed.Add(1)
	}

	c.mu.Lock()
	delete(c.inflight, key)
	waiters := g.waiters
	g.waiters = nil
	c.mu.Unlock()

	for _, fn := range waiters {
		c.deliver(key, fn, result)
	}
}

// acquire takes a slot of the generation limit. It fails once the
// coordinator context is done.
func (c *Coordinator) acquire(key Key) bool {
	if c.limit == nil {
		return true
	}
	if err := c.limit.Acquire(c.ctx, 1); err != nil {
		c.log.Debug("generation of %s abandoned: %s", key, err)
		return false
	}
	return true
}

// invoke runs generate, turning a panic or an incomplete result into nil so
// that neither tier receives a partial write.
func (c *Coordinator) invoke(key Key, generate func() *Thumbnail) (result *Thumbnail) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("generation of %s panicked: %v", key, r)
			result = nil
		}
	}()
	result = generate()
	if result != nil && (result.Image == nil || len(result.Encoded) == 0) {
		c.log.Warn("discarding incomplete thumbnail for %s", key)
		return nil
	}
	return result
}

func (c *Coordinator) deliver(key Key, fn func(*Thumbnail), result *Thumbnail) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("result callback for %s panicked: %v", key, r)
		}
	}()
	fn(result)
}

func (c *Coordinator) markActive() {
	n := c.active.Add(1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}
