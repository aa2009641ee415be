package cache

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// PreloadReport summarises one finished preload batch.
type PreloadReport struct {
	Requested  int           `json:"requested"`
	MemoryHits int           `json:"memory_hits"`
	Duplicates int           `json:"duplicates"`
	DiskHits   int           `json:"disk_hits"`
	Generated  int           `json:"generated"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Elapsed    time.Duration `json:"elapsed"`
}

// preloader warms both tiers for a batch of keys with at most workers keys
// in progress at once.
type preloader struct {
	memory      *MemoryTier
	disk        *DiskTier
	coordinator *Coordinator
	generate    func(Key) func() *Thumbnail
	workers     int
	warm        bool
}

type preloadCounters struct {
	diskHits  atomic.Int64
	generated atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// start filters keys against memory on the calling goroutine and hands the
// rest to a background batch. The returned channel receives exactly one report.
func (p *preloader) start(ctx context.Context, keys []Key) <-chan PreloadReport {
	began := time.Now()
	report := PreloadReport{Requested: len(keys)}
	seen := make(map[Key]struct{}, len(keys))
	pending := make([]Key, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			report.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		if p.memory.Contains(key) {
			report.MemoryHits++
			continue
		}
		pending = append(pending, key)
	}

	out := make(chan PreloadReport, 1)
	go func() {
		var counters preloadCounters
		p.run(ctx, pending, &counters)
		report.DiskHits = int(counters.diskHits.Load())
		report.Generated = int(counters.generated.Load())
		report.Failed = int(counters.failed.Load())
		report.Skipped = int(counters.skipped.Load())
		report.Elapsed = time.Since(began)
		out <- report
		close(out)
	}()
	return out
}

func (p *preloader) run(ctx context.Context, keys []Key, counters *preloadCounters) {
	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, key := range keys {
		g.Go(func() error {
			// cancellation only abandons keys that have not started
			if ctx.Err() != nil {
				counters.skipped.Add(1)
				return nil
			}
			p.warmKey(key, counters)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *preloader) warmKey(key Key, counters *preloadCounters) {
	if img, ok := p.disk.Get(context.Background(), key); ok {
		counters.diskHits.Add(1)
		if p.warm {
			p.memory.Put(key, img, ImageCost(img, p.coordinator.scale))
		}
		return
	}
	done := make(chan *Thumbnail, 1)
	p.coordinator.Resolve(key, p.generate(key), func(t *Thumbnail) { done <- t })
	if <-done != nil {
		counters.generated.Add(1)
	} else {
		counters.failed.Add(1)
	}
}
