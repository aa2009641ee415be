package cache

import (
	"container/list"
	"context"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/logger"
)

// DiskConfig configures a DiskTier.
type DiskConfig struct {
	// Directory holds one file per key. It is created lazily on first use.
	Directory string
	// SizeLimit is the byte budget of the directory; least recently used
	// files are removed once it is exceeded. Zero means unbounded.
	SizeLimit int64
	// MaxAge expires files written longer ago than this. Zero disables expiry.
	MaxAge time.Duration
	// ExpiryCheck is the interval of the background sweep for expired files.
	ExpiryCheck time.Duration
	// Decoder decodes file contents on Get. Defaults to DecodeJPEG.
	Decoder Decoder
	// Logger receives write failures and corruption reports.
	Logger logger.Logger

	now func() time.Time
}

// DiskStats is a snapshot of the disk tier counters.
type DiskStats struct {
	Available   bool          `json:"available"`
	Directory   string        `json:"directory"`
	Entries     int64         `json:"entries"`
	Bytes       int64         `json:"bytes"`
	SizeLimit   int64         `json:"size_limit"`
	MaxAge      time.Duration `json:"max_age"`
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Writes      int64         `json:"writes"`
	WriteErrors int64         `json:"write_errors"`
	Corrupt     int64         `json:"corrupt"`
	Evictions   int64         `json:"evictions"`
	Expired     int64         `json:"expired"`
	Dropped     int64         `json:"dropped"`
}

type diskEntry struct {
	name    string
	size    int64
	written time.Time
}

// DiskTier stores encoded thumbnails as one file per key. Every filesystem
// operation runs on a single executor goroutine, so operations on the same
// file never overlap and callers never touch the disk themselves. If the
// directory cannot be created the tier reports misses and drops writes for
// the rest of its life.
type DiskTier struct {
	dir         string
	sizeLimit   int64
	maxAge      time.Duration
	expiryCheck time.Duration
	decode      Decoder
	log         logger.Logger
	now         func() time.Time

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// owned by the executor goroutine
	initialized bool
	index       map[string]*list.Element
	lru         *list.List
	size        int64

	available   atomic.Bool
	entries     atomic.Int64
	bytes       atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	writes      atomic.Int64
	writeErrors atomic.Int64
	corrupt     atomic.Int64
	evictions   atomic.Int64
	expired     atomic.Int64
	dropped     atomic.Int64
}

// NewDiskTier starts the executor of a new disk tier. Close stops it.
func NewDiskTier(cfg DiskConfig) *DiskTier {
	d := &DiskTier{
		dir:         cfg.Directory,
		sizeLimit:   cfg.SizeLimit,
		maxAge:      cfg.MaxAge,
		expiryCheck: cfg.ExpiryCheck,
		decode:      cfg.Decoder,
		log:         cfg.Logger,
		now:         cfg.now,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		index:       make(map[string]*list.Element),
		lru:         list.New(),
	}
	if d.decode == nil {
		d.decode = DecodeJPEG
	}
	if d.log == nil {
		d.log = logger.NewConsoleLogger()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.expiryCheck <= 0 {
		d.expiryCheck = DefaultExpiryCheck
	}
	go d.run()
	return d
}

// Get reads and decodes the file for key on the executor. The caller only
// waits; when ctx ends first Get reports a miss and the read still completes.
func (d *DiskTier) Get(ctx context.Context, key Key) (image.Image, bool) {
	reply := make(chan image.Image, 1)
	ok := d.submit(func() {
		var img image.Image
		defer func() { reply <- img }()
		img = d.load(key)
	})
	if !ok {
		d.misses.Add(1)
		return nil, false
	}
	select {
	case img := <-reply:
		return img, img != nil
	case <-ctx.Done():
		return nil, false
	}
}

// Put schedules data to be written for key and returns immediately. Failures
// are logged.
func (d *DiskTier) Put(key Key, data []byte) {
	if len(data) == 0 {
		return
	}
	if !d.submit(func() { d.store(key, data) }) {
		d.dropped.Add(1)
	}
}

// Invalidate schedules removal of the file for key.
func (d *DiskTier) Invalidate(key Key) {
	d.submit(func() { d.remove(key) })
}

// Flush waits until every operation submitted before it has run.
func (d *DiskTier) Flush(ctx context.Context) error {
	return d.wait(ctx, func() error { return nil })
}

// Purge removes every cached file and waits for completion.
func (d *DiskTier) Purge(ctx context.Context) error {
	return d.wait(ctx, d.purge)
}

// Close stops accepting operations, lets the queued ones finish and stops the executor.
func (d *DiskTier) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available reports whether the directory could be created. It is false
// until the first operation has run.
func (d *DiskTier) Available() bool {
	return d.available.Load()
}

// Stats returns a snapshot of the disk tier counters.
func (d *DiskTier) Stats() DiskStats {
	return DiskStats{
		Available:   d.available.Load(),
		Directory:   d.dir,
		Entries:     d.entries.Load(),
		Bytes:       d.bytes.Load(),
		SizeLimit:   d.sizeLimit,
		MaxAge:      d.maxAge,
		Hits:        d.hits.Load(),
		Misses:      d.misses.Load(),
		Writes:      d.writes.Load(),
		WriteErrors: d.writeErrors.Load(),
		Corrupt:     d.corrupt.Load(),
		Evictions:   d.evictions.Load(),
		Expired:     d.expired.Load(),
		Dropped:     d.dropped.Load(),
	}
}

func (d *DiskTier) submit(op func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, op)
	d.mu.Unlock()
	d.signal()
	return true
}

func (d *DiskTier) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *DiskTier) wait(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !d.submit(func() { result <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DiskTier) run() {
	defer close(d.done)
	var sweep <-chan time.Time
	if d.maxAge > 0 {
		ticker := time.NewTicker(d.expiryCheck)
		defer ticker.Stop()
		sweep = ticker.C
	}
	for {
		d.mu.Lock()
		ops := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		if len(ops) > 0 {
			d.init()
			for _, op := range ops {
				d.exec(op)
			}
			continue
		}
		if closed {
			return
		}
		select {
		case <-d.wake:
		case <-sweep:
			if d.available.Load() {
				d.sweepExpired()
			}
		}
	}
}

func (d *DiskTier) exec(op func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("disk operation panicked: %v", r)
		}
	}()
	op()
}

func (d *DiskTier) init() {
	if d.initialized {
		return
	}
	d.initialized = true
	if d.dir == "" {
		d.log.Warn("disk tier disabled: %s", errors.Wrap(ErrDiskUnavailable, "no directory configured"))
		return
	}
	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		d.log.Warn("disk tier disabled: %s", errors.Wrapf(ErrDiskUnavailable, "create %s: %v", d.dir, err))
		return
	}
	d.available.Store(true)
	d.scan()
}

// scan rebuilds the index from the directory, oldest file least recent.
func (d *DiskTier) scan() {
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		d.log.Warn("error scanning %s: %s", d.dir, err)
		return
	}
	now := d.now()
	found := make([]*diskEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() {
			continue
		}
		if strings.HasPrefix(name, tmpPrefix) {
			d.deleteFile(name)
			continue
		}
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		ent := &diskEntry{name: name, size: info.Size(), written: info.ModTime()}
		if d.isExpired(ent, now) {
			d.deleteFile(name)
			d.expired.Add(1)
			continue
		}
		found = append(found, ent)
	}
	slices.SortFunc(found, func(a, b *diskEntry) int { return a.written.Compare(b.written) })
	for _, ent := range found {
		d.track(ent)
	}
	d.evictOverflow()
	d.log.Debug("indexed %d files (%d bytes) in %s", len(found), d.size, d.dir)
}

func (d *DiskTier) load(key Key) image.Image {
	if !d.available.Load() {
		d.misses.Add(1)
		return nil
	}
	el := d.lookup(key)
	if el == nil {
		d.misses.Add(1)
		return nil
	}
	ent := el.Value.(*diskEntry)
	if d.isExpired(ent, d.now()) {
		d.drop(el)
		d.expired.Add(1)
		d.misses.Add(1)
		return nil
	}
	data, err := os.ReadFile(d.path(ent.name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.log.Warn("error reading %s: %s", key, err)
		}
		d.drop(el)
		d.misses.Add(1)
		return nil
	}
	img, err := d.safeDecode(data)
	if err != nil {
		d.log.Warn("removing %s: %s", key, errors.Wrapf(ErrCorruptEntry, "%v", err))
		d.drop(el)
		d.corrupt.Add(1)
		d.misses.Add(1)
		return nil
	}
	d.lru.MoveToFront(el)
	d.hits.Add(1)
	return img
}

func (d *DiskTier) safeDecode(data []byte) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, errors.Newf("decoder panic: %v", r)
		}
	}()
	img, err = d.decode(data)
	if err == nil && img == nil {
		err = errors.New("decoder returned no image")
	}
	return img, err
}

func (d *DiskTier) store(key Key, data []byte) {
	if !d.available.Load() {
		d.dropped.Add(1)
		return
	}
	name := fileName(key)
	if err := d.writeFile(name, data); err != nil {
		d.writeErrors.Add(1)
		d.log.Warn("error writing %s: %s", key, err)
		return
	}
	d.track(&diskEntry{name: name, size: int64(len(data)), written: d.now()})
	d.writes.Add(1)
	d.evictOverflow()
}

// writeFile writes through a temp file in the same directory and renames it
// into place, so readers never observe a partial file.
func (d *DiskTier) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(d.dir, tmpPrefix+"*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, d.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}

func (d *DiskTier) remove(key Key) {
	if !d.available.Load() {
		return
	}
	name := fileName(key)
	if el, ok := d.index[name]; ok {
		d.drop(el)
		return
	}
	d.deleteFile(name)
}

func (d *DiskTier) purge() error {
	if !d.available.Load() {
		return ErrDiskUnavailable
	}
	for el := d.lru.Back(); el != nil; el = d.lru.Back() {
		d.drop(el)
	}
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		return errors.Wrapf(err, "read %s", d.dir)
	}
	for _, de := range dirEntries {
		if !de.IsDir() && (strings.HasSuffix(de.Name(), fileExt) || strings.HasPrefix(de.Name(), tmpPrefix)) {
			d.deleteFile(de.Name())
		}
	}
	return nil
}

func (d *DiskTier) sweepExpired() {
	now := d.now()
	for el := d.lru.Back(); el != nil; {
		prev := el.Prev()
		if d.isExpired(el.Value.(*diskEntry), now) {
			d.drop(el)
			d.expired.Add(1)
		}
		el = prev
	}
}

func (d *DiskTier) evictOverflow() {
	for d.sizeLimit > 0 && d.size > d.sizeLimit {
		el := d.lru.Back()
		if el == nil {
			return
		}
		d.drop(el)
		d.evictions.Add(1)
	}
}

func (d *DiskTier) isExpired(ent *diskEntry, now time.Time) bool {
	return d.maxAge > 0 && now.Sub(ent.written) > d.maxAge
}

// lookup returns the index element for key, adopting a file that exists on
// disk but is not indexed yet.
func (d *DiskTier) lookup(key Key) *list.Element {
	name := fileName(key)
	if el, ok := d.index[name]; ok {
		return el
	}
	info, err := os.Stat(d.path(name))
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	return d.track(&diskEntry{name: name, size: info.Size(), written: info.ModTime()})
}

// Internal index helpers (executor only)

func (d *DiskTier) track(ent *diskEntry) *list.Element {
	if el, ok := d.index[ent.name]; ok {
		old := el.Value.(*diskEntry)
		d.size += ent.size - old.size
		el.Value = ent
		d.lru.MoveToFront(el)
		d.publish()
		return el
	}
	el := d.lru.PushFront(ent)
	d.index[ent.name] = el
	d.size += ent.size
	d.publish()
	return el
}

func (d *DiskTier) drop(el *list.Element) {
	ent := el.Value.(*diskEntry)
	d.deleteFile(ent.name)
	d.lru.Remove(el)
	delete(d.index, ent.name)
	d.size -= ent.size
	d.publish()
}

func (d *DiskTier) publish() {
	d.entries.Store(int64(d.lru.Len()))
	d.bytes.Store(d.size)
}

func (d *DiskTier) deleteFile(name string) {
	if err := os.Remove(d.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.log.Debug("error removing %s: %s", name, err)
	}
}

func (d *DiskTier) path(name string) string {
	return filepath.Join(d.dir, name)
}
