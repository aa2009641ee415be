package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pixvault/go-common/cache"
	"github.com/pixvault/go-common/logger"
	"github.com/pixvault/go-common/thumbnail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(body), 0o600))
	return fn
}

func TestLoad(t *testing.T) {
	fn := writeConfig(t, `
cache:
  memory:
    count: 40
    size: 8Mi
  disk:
    directory: /tmp/thumbs
    size: 1Gi
    max_age: 30d
    expiry_check: 5m
  preload_workers: 6
  scale: 2
store:
  type: sqlite
  path: /tmp/photos.db
  breaker:
    max_failures: 2
    cooldown: 1m
thumbnail:
  size: 256
`)
	c, err := Load(fn)
	require.NoError(t, err)

	assert.Equal(t, 40, c.Cache.Memory.Count)
	assert.Equal(t, int64(8<<20), c.Cache.Memory.Size.Bytes())
	assert.Equal(t, "/tmp/thumbs", c.Cache.Disk.Directory)
	assert.Equal(t, int64(1<<30), c.Cache.Disk.Size.Bytes())
	assert.Equal(t, 30*24*time.Hour, c.Cache.Disk.MaxAge.Duration())
	assert.Equal(t, 5*time.Minute, c.Cache.Disk.ExpiryCheck.Duration())
	assert.Equal(t, 6, c.Cache.PreloadWorkers)
	assert.Equal(t, float64(2), c.Cache.Scale)
	assert.Equal(t, StoreSQLite, c.Store.Type)
	assert.Equal(t, 256, c.Thumbnail.Size)

	// keys absent from the file keep their defaults
	assert.True(t, c.Cache.WarmMemory)
	assert.Equal(t, thumbnail.DefaultQuality, c.Thumbnail.Quality)

	guard := c.GuardConfig()
	assert.Equal(t, 2, guard.MaxFailures)
	assert.Equal(t, time.Minute, guard.Cooldown)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad size", "cache:\n  memory:\n    size: lots\n"},
		{"negative size", "cache:\n  disk:\n    size: -1Gi\n"},
		{"bad duration", "cache:\n  disk:\n    max_age: forever\n"},
		{"negative count", "cache:\n  memory:\n    count: -1\n"},
		{"quality", "thumbnail:\n  quality: 101\n"},
		{"store type", "store:\n  type: s3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Load(fn)
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := LoadOrDefault(fn)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestDefaultMatchesCacheDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, cache.DefaultMemoryCountLimit, c.Cache.Memory.Count)
	assert.Equal(t, cache.DefaultMemoryCostLimit, c.Cache.Memory.Size.Bytes())
	assert.Equal(t, "30Mi", c.Cache.Memory.Size.String())
	assert.Equal(t, cache.DefaultDiskSizeLimit, c.Cache.Disk.Size.Bytes())
	assert.Equal(t, time.Duration(0), c.Cache.Disk.MaxAge.Duration())
}

func TestSaveRoundTrip(t *testing.T) {
	c := Default()
	c.Cache.Disk.MaxAge = Duration(14 * 24 * time.Hour)
	c.Store.Type = StoreSQLite
	fn := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, c.Save(fn))

	loaded, err := Load(fn)
	require.NoError(t, err)
	assert.Equal(t, c.Cache.Disk.MaxAge, loaded.Cache.Disk.MaxAge)
	assert.Equal(t, c.Cache.Memory.Size.Bytes(), loaded.Cache.Memory.Size.Bytes())
	assert.Equal(t, StoreSQLite, loaded.Store.Type)
}

func TestByteSizeJSON(t *testing.T) {
	var m Memory
	require.NoError(t, json.Unmarshal([]byte(`{"count":3,"size":"2Mi"}`), &m))
	assert.Equal(t, int64(2<<20), m.Size.Bytes())
	assert.Error(t, json.Unmarshal([]byte(`{"size":"nope"}`), &m))

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":3,"size":"2Mi"}`, string(out))
}

func TestDurationYAML(t *testing.T) {
	var d Disk
	require.NoError(t, yaml.Unmarshal([]byte("max_age: 1w2d\n"), &d))
	assert.Equal(t, 9*24*time.Hour, d.MaxAge.Duration())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "thumbs"), expandHome("~/thumbs"))
	assert.Equal(t, "/abs", expandHome("/abs"))
}

func TestCacheOptionsBuildWorkingCache(t *testing.T) {
	c := Default()
	c.Cache.Disk.Directory = t.TempDir()
	c.Store.Path = filepath.Join(t.TempDir(), "photos")
	store, err := c.OpenStore(context.Background())
	require.NoError(t, err)
	defer store.Close()

	cc := cache.New(store, c.Generator(), c.CacheOptions(logger.NewTestLogger())...)
	defer cc.Close(context.Background())
	stats := cc.Stats()
	assert.Equal(t, cache.DefaultMemoryCountLimit, stats.Memory.CountLimit)
	assert.Equal(t, cache.DefaultDiskSizeLimit, stats.Disk.SizeLimit)
}

func TestOpenSQLiteStore(t *testing.T) {
	c := Default()
	c.Store.Type = StoreSQLite
	c.Store.Path = filepath.Join(t.TempDir(), "db", "photos.db")
	store, err := c.OpenStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.FileExists(t, c.Store.Path)
}
