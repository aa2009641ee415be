package cache

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/logger"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func solidImage(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

type fakeStore struct {
	mu      sync.Mutex
	sources map[Key][]byte
	calls   atomic.Int64
}

func newFakeStore(keys ...Key) *fakeStore {
	s := &fakeStore{sources: make(map[Key][]byte)}
	for _, key := range keys {
		s.sources[key] = []byte("source:" + string(key))
	}
	return s
}

func (s *fakeStore) LoadSourceBytes(ctx context.Context, key Key) ([]byte, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sources[key]
	if !ok {
		return nil, errors.Newf("no source for %s", key)
	}
	return data, nil
}

// fakeGenerator encodes a small JPEG for every source. A non-nil gate blocks
// each call until it is closed, and fail makes every call fail.
type fakeGenerator struct {
	t      testing.TB
	gate   chan struct{}
	delay  time.Duration
	fail   atomic.Bool
	calls  atomic.Int64
	active atomic.Int64
	peak   atomic.Int64
}

func newFakeGenerator(t testing.TB) *fakeGenerator {
	return &fakeGenerator{t: t}
}

func (g *fakeGenerator) Generate(ctx context.Context, source []byte) ([]byte, error) {
	g.calls.Add(1)
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if g.gate != nil {
		<-g.gate
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.fail.Load() {
		return nil, errors.New("generator failed")
	}
	return encodeJPEG(g.t, 12, 12, color.Gray{Y: uint8(len(source))}), nil
}

func newTestCache(t *testing.T, store PhotoStore, gen ThumbnailGenerator, opts ...Option) (*Cache, *logger.TestLogger, string) {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewTestLogger()
	opts = append([]Option{WithDiskDirectory(dir), WithLogger(log)}, opts...)
	c := New(store, gen, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, log, dir
}

func flush(t *testing.T, c *Cache) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Flush(ctx))
}
