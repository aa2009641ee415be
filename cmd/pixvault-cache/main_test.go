package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pixvault/go-common/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	config   string
	cacheDir string
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(env.EnvOTLPURL, "")
	dir := t.TempDir()
	e := &testEnv{
		config:   filepath.Join(dir, "config.yaml"),
		cacheDir: filepath.Join(dir, "thumbs"),
		dir:      dir,
	}
	body := "cache:\n  disk:\n    directory: " + e.cacheDir + "\n" +
		"store:\n  type: directory\n  path: " + filepath.Join(dir, "photos") + "\n" +
		"thumbnail:\n  size: 32\n"
	require.NoError(t, os.WriteFile(e.config, []byte(body), 0o600))
	return e
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", e.config, "--no-telemetry", "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) writePhoto(t *testing.T, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	fn := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(fn, buf.Bytes(), 0o600))
	return fn
}

func (e *testEnv) importPhoto(t *testing.T, name string) string {
	t.Helper()
	out, err := e.run(t, "import", e.writePhoto(t, name))
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	return fields[0]
}

func TestImportGetInvalidate(t *testing.T) {
	e := newTestEnv(t)
	key := e.importPhoto(t, "beach.png")

	thumb := filepath.Join(e.dir, "thumb.jpg")
	out, err := e.run(t, "get", key, "-o", thumb)
	require.NoError(t, err)
	assert.Contains(t, out, key+"\tgenerated\t32x32")
	assert.FileExists(t, thumb)
	assert.FileExists(t, filepath.Join(e.cacheDir, key+".jpg"))

	// a new process only has the disk tier
	out, err = e.run(t, "get", key)
	require.NoError(t, err)
	assert.Contains(t, out, key+"\tdisk\t32x32")

	_, err = e.run(t, "invalidate", key)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(e.cacheDir, key+".jpg"))
}

func TestGetUnknownKey(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.run(t, "get", "6f1c8f5e-8a57-4a8e-9d55-1d1f0f6b2c11")
	assert.ErrorContains(t, err, "no thumbnail")
}

func TestPreloadAllAndStats(t *testing.T) {
	e := newTestEnv(t)
	first := e.importPhoto(t, "one.png")
	second := e.importPhoto(t, "two.png")

	out, err := e.run(t, "preload", "--all", first)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated")
	assert.FileExists(t, filepath.Join(e.cacheDir, first+".jpg"))
	assert.FileExists(t, filepath.Join(e.cacheDir, second+".jpg"))

	out, err = e.run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "memory")
	assert.Contains(t, out, "disk")
	assert.Contains(t, out, "Free")
}

func TestPreloadRequiresKeys(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.run(t, "preload")
	assert.ErrorContains(t, err, "no keys")
}

func TestPurge(t *testing.T) {
	e := newTestEnv(t)
	key := e.importPhoto(t, "one.png")
	_, err := e.run(t, "preload", key)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(e.cacheDir, key+".jpg"))

	_, err = e.run(t, "purge", "--yes")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(e.cacheDir, key+".jpg"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "30Mi", formatBytes(30<<20))
	assert.Equal(t, "0", formatBytes(0))
}
