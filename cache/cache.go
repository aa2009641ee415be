package cache

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pixvault/go-common/cache"

// Tier names reported on Get spans.
const (
	TierMemory    = "memory"
	TierDisk      = "disk"
	TierGenerated = "generated"
	TierMiss      = "miss"
)

// PhotoStore supplies the full-resolution source bytes of a photo.
type PhotoStore interface {
	LoadSourceBytes(ctx context.Context, key Key) ([]byte, error)
}

// ThumbnailGenerator turns source bytes into an encoded thumbnail.
type ThumbnailGenerator interface {
	Generate(ctx context.Context, source []byte) ([]byte, error)
}

// Stats is a snapshot of every tier.
type Stats struct {
	Memory     MemoryStats     `json:"memory"`
	Disk       DiskStats       `json:"disk"`
	Generation GenerationStats `json:"generation"`
}

// Cache is a two-tier thumbnail cache. Lookups go to memory, then disk, and
// finally generate the thumbnail from the photo store, writing the result to
// both tiers. Concurrent requests for the same key share one generation.
//
// All failures are absorbed: callers only ever see a present or absent image.
type Cache struct {
	store  PhotoStore
	gen    ThumbnailGenerator
	decode Decoder
	scale  float64
	log    logger.Logger
	tracer trace.Tracer

	memory      *MemoryTier
	disk        *DiskTier
	coordinator *Coordinator
	preloader   *preloader

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New returns a cache generating thumbnails from store with gen.
func New(store PhotoStore, gen ThumbnailGenerator, opts ...Option) *Cache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		store:  store,
		gen:    gen,
		decode: cfg.decode,
		scale:  cfg.scale,
		log:    cfg.logger,
		tracer: cfg.tracer,
		memory: NewMemoryTier(cfg.memoryCountLimit, cfg.memoryCostLimit),
		disk: NewDiskTier(DiskConfig{
			Directory:   cfg.diskDir,
			SizeLimit:   cfg.diskSizeLimit,
			MaxAge:      cfg.diskMaxAge,
			ExpiryCheck: cfg.expiryCheck,
			Decoder:     cfg.decode,
			Logger:      cfg.logger.WithPrefix("[disk]"),
		}),
		ctx:    ctx,
		cancel: cancel,
	}
	c.coordinator = NewCoordinator(ctx, c.memory, c.disk, cfg.scale, cfg.generationLimit, cfg.logger)
	c.preloader = &preloader{
		memory:      c.memory,
		disk:        c.disk,
		coordinator: c.coordinator,
		generate:    c.generator,
		workers:     cfg.preloadWorkers,
		warm:        cfg.preloadWarm,
	}
	return c
}

// Lookup probes the memory tier only. It never blocks on I/O.
func (c *Cache) Lookup(key Key) (image.Image, bool) {
	return c.memory.Get(key)
}

// Get returns the thumbnail for key, generating it if neither tier has it.
// When ctx ends first Get returns a miss; a generation already started keeps
// running and fills the cache.
func (c *Cache) Get(ctx context.Context, key Key) (image.Image, bool) {
	img, _ := c.GetTier(ctx, key)
	return img, img != nil
}

// GetTier is Get that also reports the tier which served the thumbnail, one
// of TierMemory, TierDisk, TierGenerated or TierMiss.
func (c *Cache) GetTier(ctx context.Context, key Key) (image.Image, string) {
	ctx, span := c.tracer.Start(ctx, "cache.Get", trace.WithAttributes(attribute.String("thumbnail.key", string(key))))
	defer span.End()

	img, tier := c.get(ctx, key)
	span.SetAttributes(attribute.String("thumbnail.tier", tier))
	if img == nil && ctx.Err() != nil {
		span.SetStatus(codes.Error, ctx.Err().Error())
	}
	return img, tier
}

func (c *Cache) get(ctx context.Context, key Key) (image.Image, string) {
	if img, ok := c.memory.Get(key); ok {
		return img, TierMemory
	}
	if c.closed.Load() {
		return nil, TierMiss
	}
	if img, ok := c.disk.Get(ctx, key); ok {
		c.memory.Put(key, img, ImageCost(img, c.scale))
		return img, TierDisk
	}
	if ctx.Err() != nil {
		return nil, TierMiss
	}

	done := make(chan *Thumbnail, 1)
	c.coordinator.Resolve(key, c.generator(key), func(t *Thumbnail) { done <- t })
	select {
	case t := <-done:
		if t == nil {
			return nil, TierMiss
		}
		return t.Image, TierGenerated
	case <-ctx.Done():
		return nil, TierMiss
	}
}

// GetAsync resolves key like Get and passes the result, nil on a miss, to fn
// on a cache goroutine. fn is called exactly once.
func (c *Cache) GetAsync(key Key, fn func(image.Image)) {
	go func() {
		img, _ := c.Get(context.Background(), key)
		fn(img)
	}()
}

// Preload warms both tiers for keys in the background, working on at most
// the configured number of keys at once. Keys already in memory are skipped
// before Preload returns. Cancelling ctx abandons keys that have not started.
// The channel receives one report when the batch is done.
func (c *Cache) Preload(ctx context.Context, keys []Key) <-chan PreloadReport {
	if c.closed.Load() {
		out := make(chan PreloadReport, 1)
		out <- PreloadReport{Requested: len(keys), Skipped: len(keys)}
		close(out)
		return out
	}
	return c.preloader.start(ctx, keys)
}

// Invalidate removes key from memory and schedules removal of its disk file.
// A generation already running for key is not cancelled and will repopulate
// both tiers.
func (c *Cache) Invalidate(key Key) {
	c.memory.Invalidate(key)
	c.disk.Invalidate(key)
}

// Purge empties both tiers.
func (c *Cache) Purge(ctx context.Context) error {
	c.memory.Purge()
	return c.disk.Purge(ctx)
}

// Stats returns a snapshot of both tiers and the generation counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Memory:     c.memory.Stats(),
		Disk:       c.disk.Stats(),
		Generation: c.coordinator.Stats(),
	}
}

// Flush waits for running generations and every queued disk operation.
func (c *Cache) Flush(ctx context.Context) error {
	if err := c.coordinator.Wait(ctx); err != nil {
		return err
	}
	return c.disk.Flush(ctx)
}

// Close aborts running generations, drains the disk queue and stops the disk
// executor. Only the memory tier answers afterwards.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		if err := c.coordinator.Wait(ctx); err != nil {
			c.closeErr = err
			return
		}
		c.closeErr = c.disk.Close(ctx)
	})
	return c.closeErr
}

// generator returns the generation function for key. It runs under the
// lifetime context of the cache, not the context of whoever asked first.
func (c *Cache) generator(key Key) func() *Thumbnail {
	return func() *Thumbnail {
		t, err := c.generate(c.ctx, key)
		if err != nil {
			if c.ctx.Err() != nil {
				c.log.Debug("generation of %s aborted: %s", key, err)
			} else {
				c.log.Warn("%s", errors.Wrapf(ErrGenerationFailed, "%s: %v", key, err))
			}
			return nil
		}
		return t
	}
}

func (c *Cache) generate(ctx context.Context, key Key) (*Thumbnail, error) {
	source, err := c.store.LoadSourceBytes(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "load source")
	}
	if len(source) == 0 {
		return nil, errors.New("empty source")
	}
	encoded, err := c.gen.Generate(ctx, source)
	if err != nil {
		return nil, errors.Wrap(err, "generate thumbnail")
	}
	if len(encoded) == 0 {
		return nil, errors.New("generator returned no data")
	}
	img, err := c.decode(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "decode thumbnail")
	}
	return &Thumbnail{Image: img, Encoded: encoded}, nil
}
