// Package config loads the YAML configuration of the pixvault cache tools.
//
// Byte sizes are Kubernetes style quantities ("30Mi", "1G") and durations
// accept day and week units ("30d", "1w2d").
package config

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/cache"
	"github.com/pixvault/go-common/logger"
	"github.com/pixvault/go-common/photostore"
	"github.com/pixvault/go-common/thumbnail"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

// EnvConfigFile overrides the default configuration file location.
const EnvConfigFile = "PIXVAULT_CONFIG"

var (
	ErrNotFound = errors.New("config: file not found")
	ErrInvalid  = errors.New("config: invalid value")
)

// ByteSize is a number of bytes written as a quantity such as "256Mi".
type ByteSize struct {
	Raw      string
	Quantity resource.Quantity
}

// Bytes returns the size, zero when unset.
func (b ByteSize) Bytes() int64 {
	if b.Raw == "" {
		return 0
	}
	return b.Quantity.Value()
}

func (b ByteSize) String() string {
	return b.Raw
}

// Bytes returns a ByteSize of n bytes in binary SI notation.
func Bytes(n int64) ByteSize {
	q := resource.NewQuantity(n, resource.BinarySI)
	return ByteSize{Raw: q.String(), Quantity: *q}
}

func (b *ByteSize) parse(raw string) error {
	if raw == "" {
		*b = ByteSize{}
		return nil
	}
	val, err := resource.ParseQuantity(raw)
	if err != nil {
		return errors.Wrapf(ErrInvalid, "error validating size value '%s'. %v", raw, err)
	}
	if val.Sign() < 0 {
		return errors.Wrapf(ErrInvalid, "size must be >= 0, got '%s'", raw)
	}
	*b = ByteSize{Raw: raw, Quantity: val}
	return nil
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return b.parse(raw)
}

func (b ByteSize) MarshalYAML() (any, error) {
	return b.Raw, nil
}

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return b.parse(raw)
}

func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Raw)
}

// Duration is a time.Duration that also accepts day and week units.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return str2duration.String(time.Duration(d))
}

func (d *Duration) parse(raw string) error {
	if raw == "" || raw == "0" {
		*d = 0
		return nil
	}
	val, err := str2duration.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(ErrInvalid, "error validating duration value '%s'. %v", raw, err)
	}
	if val < 0 {
		return errors.Wrapf(ErrInvalid, "duration must be >= 0, got '%s'", raw)
	}
	*d = Duration(val)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.parse(raw)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.parse(raw)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

type Memory struct {
	Count int      `json:"count" yaml:"count"`
	Size  ByteSize `json:"size" yaml:"size"`
}

type Disk struct {
	Directory   string   `json:"directory" yaml:"directory"`
	Size        ByteSize `json:"size" yaml:"size"`
	MaxAge      Duration `json:"max_age" yaml:"max_age"`
	ExpiryCheck Duration `json:"expiry_check" yaml:"expiry_check"`
}

type Cache struct {
	Memory          Memory  `json:"memory" yaml:"memory"`
	Disk            Disk    `json:"disk" yaml:"disk"`
	PreloadWorkers  int     `json:"preload_workers" yaml:"preload_workers"`
	WarmMemory      bool    `json:"warm_memory" yaml:"warm_memory"`
	GenerationLimit int64   `json:"generation_limit" yaml:"generation_limit"`
	Scale           float64 `json:"scale" yaml:"scale"`
}

type Breaker struct {
	MaxFailures int      `json:"max_failures" yaml:"max_failures"`
	Cooldown    Duration `json:"cooldown" yaml:"cooldown"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
}

// Store types.
const (
	StoreDirectory = "directory"
	StoreSQLite    = "sqlite"
)

type Store struct {
	Type    string  `json:"type" yaml:"type"`
	Path    string  `json:"path" yaml:"path"`
	Breaker Breaker `json:"breaker" yaml:"breaker"`
}

type Thumbnail struct {
	Size    int `json:"size" yaml:"size"`
	Quality int `json:"quality" yaml:"quality"`
}

type Config struct {
	Cache     Cache     `json:"cache" yaml:"cache"`
	Store     Store     `json:"store" yaml:"store"`
	Thumbnail Thumbnail `json:"thumbnail" yaml:"thumbnail"`
}

// Dir returns the directory holding the default configuration and photo store.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pixvault"
	}
	return filepath.Join(home, ".pixvault")
}

// DefaultPath returns the configuration file used when none is given.
func DefaultPath() string {
	if fn, ok := os.LookupEnv(EnvConfigFile); ok && fn != "" {
		return fn
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the configuration matching the cache package defaults.
func Default() *Config {
	guard := photostore.DefaultGuardConfig()
	return &Config{
		Cache: Cache{
			Memory: Memory{Count: cache.DefaultMemoryCountLimit, Size: Bytes(cache.DefaultMemoryCostLimit)},
			Disk: Disk{
				Directory:   cache.DefaultDirectory(),
				Size:        Bytes(cache.DefaultDiskSizeLimit),
				ExpiryCheck: Duration(cache.DefaultExpiryCheck),
			},
			PreloadWorkers: cache.DefaultPreloadWorkers,
			WarmMemory:     true,
			Scale:          1,
		},
		Store: Store{
			Type: StoreDirectory,
			Path: filepath.Join(Dir(), "photos"),
			Breaker: Breaker{
				MaxFailures: guard.MaxFailures,
				Cooldown:    Duration(guard.Cooldown),
				Timeout:     Duration(guard.RequestTimeout),
			},
		},
		Thumbnail: Thumbnail{Size: thumbnail.DefaultSize, Quality: thumbnail.DefaultQuality},
	}
}

// Load reads the file at path over the defaults. Keys missing from the file
// keep their default value.
func Load(path string) (*Config, error) {
	c := Default()
	of, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "failed to open config file: %s", path)
	}
	defer of.Close()
	if err := yaml.NewDecoder(of).Decode(c); err != nil {
		return nil, errors.Wrapf(err, "failed to decode YAML config file: %s", path)
	}
	c.expandPaths()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	c, err := Load(path)
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	return c, err
}

// Save writes c to path as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	of, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer of.Close()
	of.WriteString("# pixvault thumbnail cache configuration\n\n")
	enc := yaml.NewEncoder(of)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return enc.Close()
}

func (c *Config) Validate() error {
	switch {
	case c.Cache.Memory.Count < 0:
		return errors.Wrapf(ErrInvalid, "cache.memory.count must be >= 0, got %d", c.Cache.Memory.Count)
	case c.Cache.PreloadWorkers < 0:
		return errors.Wrapf(ErrInvalid, "cache.preload_workers must be >= 0, got %d", c.Cache.PreloadWorkers)
	case c.Cache.GenerationLimit < 0:
		return errors.Wrapf(ErrInvalid, "cache.generation_limit must be >= 0, got %d", c.Cache.GenerationLimit)
	case c.Cache.Scale < 0:
		return errors.Wrapf(ErrInvalid, "cache.scale must be >= 0, got %v", c.Cache.Scale)
	case c.Thumbnail.Size < 0:
		return errors.Wrapf(ErrInvalid, "thumbnail.size must be >= 0, got %d", c.Thumbnail.Size)
	case c.Thumbnail.Quality < 0 || c.Thumbnail.Quality > 100:
		return errors.Wrapf(ErrInvalid, "thumbnail.quality must be between 0 and 100, got %d", c.Thumbnail.Quality)
	case c.Store.Path == "":
		return errors.Wrap(ErrInvalid, "missing store.path value")
	}
	switch c.Store.Type {
	case StoreDirectory, StoreSQLite:
	default:
		return errors.Wrapf(ErrInvalid, "invalid store.type value: %s. only %s or %s are supported", c.Store.Type, StoreDirectory, StoreSQLite)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Cache.Disk.Directory = expandHome(c.Cache.Disk.Directory)
	c.Store.Path = expandHome(c.Store.Path)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// CacheOptions converts the cache section into options for cache.New.
func (c *Config) CacheOptions(log logger.Logger) []cache.Option {
	opts := []cache.Option{
		cache.WithMemoryLimits(c.Cache.Memory.Count, c.Cache.Memory.Size.Bytes()),
		cache.WithDiskDirectory(c.Cache.Disk.Directory),
		cache.WithDiskLimits(c.Cache.Disk.Size.Bytes(), c.Cache.Disk.MaxAge.Duration()),
		cache.WithPreloadWorkers(c.Cache.PreloadWorkers),
		cache.WithPreloadWarmMemory(c.Cache.WarmMemory),
		cache.WithGenerationLimit(c.Cache.GenerationLimit),
		cache.WithScale(c.Cache.Scale),
		cache.WithDecoder(thumbnail.Decode),
	}
	if d := c.Cache.Disk.ExpiryCheck.Duration(); d > 0 {
		opts = append(opts, cache.WithExpiryCheck(d))
	}
	if log != nil {
		opts = append(opts, cache.WithLogger(log))
	}
	return opts
}

// Generator returns the thumbnail generator described by the thumbnail section.
func (c *Config) Generator() *thumbnail.JPEGGenerator {
	return thumbnail.NewJPEGGenerator(thumbnail.WithSize(c.Thumbnail.Size), thumbnail.WithQuality(c.Thumbnail.Quality))
}

// OpenStore opens the configured photo store.
func (c *Config) OpenStore(ctx context.Context) (photostore.Store, error) {
	switch c.Store.Type {
	case StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0o700); err != nil {
			return nil, errors.Wrapf(err, "create %s", filepath.Dir(c.Store.Path))
		}
		return photostore.NewSQLite(ctx, c.Store.Path)
	case StoreDirectory:
		return photostore.NewDirectory(c.Store.Path)
	default:
		return nil, errors.Wrapf(ErrInvalid, "invalid store.type value: %s", c.Store.Type)
	}
}

// GuardConfig returns the circuit breaker settings for the photo store.
func (c *Config) GuardConfig() photostore.GuardConfig {
	cfg := photostore.DefaultGuardConfig()
	if c.Store.Breaker.MaxFailures > 0 {
		cfg.MaxFailures = c.Store.Breaker.MaxFailures
	}
	if d := c.Store.Breaker.Cooldown.Duration(); d > 0 {
		cfg.Cooldown = d
	}
	if d := c.Store.Breaker.Timeout.Duration(); d > 0 {
		cfg.RequestTimeout = d
	}
	return cfg
}
