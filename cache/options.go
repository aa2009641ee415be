package cache

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/pixvault/go-common/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMemoryCountLimit is the default number of decoded thumbnails kept in memory.
	DefaultMemoryCountLimit = 150
	// DefaultMemoryCostLimit is the default decoded-bytes budget of the memory tier (30 MiB).
	DefaultMemoryCostLimit int64 = 30 << 20
	// DefaultDiskSizeLimit is the default byte budget of the disk tier (256 MiB).
	DefaultDiskSizeLimit int64 = 256 << 20
	// DefaultPreloadWorkers bounds how many keys one preload batch works on at once.
	DefaultPreloadWorkers = 3
	// DefaultExpiryCheck is how often the disk tier sweeps expired files when a max age is set.
	DefaultExpiryCheck = time.Minute
)

// Decoder turns encoded thumbnail bytes into a decoded image.
type Decoder func(data []byte) (image.Image, error)

// DecodeJPEG is the default Decoder; the disk layout is one JPEG per key.
func DecodeJPEG(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

// config holds the resolved configuration for a Cache.
type config struct {
	memoryCountLimit int
	memoryCostLimit  int64
	diskDir          string
	diskSizeLimit    int64
	diskMaxAge       time.Duration
	expiryCheck      time.Duration
	preloadWorkers   int
	preloadWarm      bool
	generationLimit  int64
	scale            float64
	decode           Decoder
	logger           logger.Logger
	tracer           trace.Tracer
}

// Option configures a Cache.
type Option func(*config)

// DefaultDirectory returns the per-user cache directory used when
// WithDiskDirectory is not given. It is empty when the platform has no user
// cache directory, which leaves the disk tier unavailable.
func DefaultDirectory() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pixvault", "thumbnails")
}

func defaultConfig() config {
	return config{
		memoryCountLimit: DefaultMemoryCountLimit,
		memoryCostLimit:  DefaultMemoryCostLimit,
		diskDir:          DefaultDirectory(),
		diskSizeLimit:    DefaultDiskSizeLimit,
		expiryCheck:      DefaultExpiryCheck,
		preloadWorkers:   DefaultPreloadWorkers,
		preloadWarm:      true,
		scale:            1,
		decode:           DecodeJPEG,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger()
	}
	cfg.logger = cfg.logger.WithPrefix("[cache]")
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}
	if cfg.preloadWorkers <= 0 {
		cfg.preloadWorkers = DefaultPreloadWorkers
	}
	if cfg.scale <= 0 {
		cfg.scale = 1
	}
	if cfg.decode == nil {
		cfg.decode = DecodeJPEG
	}
	return cfg
}

// WithMemoryLimits sets the entry count and decoded-byte cost limits of the
// memory tier. A zero value disables that limit. Defaults to
// DefaultMemoryCountLimit and DefaultMemoryCostLimit.
func WithMemoryLimits(count int, cost int64) Option {
	return func(c *config) {
		c.memoryCountLimit = count
		c.memoryCostLimit = cost
	}
}

// WithDiskDirectory sets the directory of the disk tier. It is created on
// first use; when that fails the disk tier stays unavailable.
func WithDiskDirectory(dir string) Option {
	return func(c *config) { c.diskDir = dir }
}

// WithDiskLimits sets the byte budget and the maximum age of disk files.
// Zero disables the respective limit. Defaults to DefaultDiskSizeLimit and no
// maximum age.
func WithDiskLimits(maxBytes int64, maxAge time.Duration) Option {
	return func(c *config) {
		c.diskSizeLimit = maxBytes
		c.diskMaxAge = maxAge
	}
}

// WithExpiryCheck sets the interval of the background sweep removing expired
// disk files. Only used together with a maximum age. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPreloadWorkers sets how many keys a preload batch processes
// concurrently. Defaults to DefaultPreloadWorkers.
func WithPreloadWorkers(n int) Option {
	return func(c *config) { c.preloadWorkers = n }
}

// WithPreloadWarmMemory controls whether preload disk hits are promoted into
// the memory tier. Defaults to true.
func WithPreloadWarmMemory(warm bool) Option {
	return func(c *config) { c.preloadWarm = warm }
}

// WithGenerationLimit caps the number of thumbnail generations running at
// once across all callers. Zero (the default) leaves generation unbounded;
// deduplication per key applies either way.
func WithGenerationLimit(n int64) Option {
	return func(c *config) { c.generationLimit = n }
}

// WithScale sets the display scale used in the memory cost estimate
// width × height × scale × 4. Defaults to 1.
func WithScale(scale float64) Option {
	return func(c *config) { c.scale = scale }
}

// WithDecoder replaces the decoder used for disk reads and freshly generated
// thumbnails. Defaults to DecodeJPEG.
func WithDecoder(decode Decoder) Option {
	return func(c *config) { c.decode = decode }
}

// WithLogger sets the logger. Defaults to a console logger at the level from
// the environment.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithTracerProvider sets the provider of the tracer used for Get spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracer = tp.Tracer(tracerName) }
}
