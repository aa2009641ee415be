// Package cache provides a two-tier thumbnail cache for photo grids and
// detail views.
//
// # Tiers
//
// [MemoryTier] keeps decoded images in an LRU bounded by entry count and by
// an estimated decoded size (width × height × scale × 4). [DiskTier] keeps
// one JPEG per key in a flat directory. All of its file operations run on a
// single executor goroutine, so two operations on the same file never
// overlap. If the directory cannot be created the disk tier misses forever
// and drops writes; files that fail to decode are deleted and reported as
// misses. The directory is bounded by size (least recently used files go
// first) and optionally by file age.
//
// # Generation
//
// On a miss in both tiers the [Coordinator] loads the source bytes from the
// [PhotoStore] and hands them to the [ThumbnailGenerator]. Only one
// generation runs per key; callers arriving while it runs are queued and
// receive the same result. A successful result is written to memory and
// then to disk. A failed one writes nothing and is delivered as a miss.
//
// # Usage
//
//	c := cache.New(store, thumbnail.NewJPEGGenerator(),
//	    cache.WithDiskDirectory(dir),
//	    cache.WithLogger(log),
//	)
//	defer c.Close(context.Background())
//
//	img, ok := c.Get(ctx, key)
//
// [Cache.GetAsync] delivers the result to a continuation instead of blocking.
// [Cache.Preload] warms both tiers for an ordered list of keys with a small
// bounded pool, sharing generations with foreground requests.
package cache
