package photostore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/cache"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	sourceExt = ".src"
	metaExt   = ".meta"
)

// Directory keeps every photo as two files under a root directory: the
// source bytes and its msgpack encoded Meta.
type Directory struct {
	root string
}

// NewDirectory opens the store rooted at root, creating it if needed.
func NewDirectory(root string) (*Directory, error) {
	if root == "" {
		return nil, errors.New("photostore: empty directory")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create %s", root)
	}
	return &Directory{root: root}, nil
}

func (d *Directory) Root() string {
	return d.root
}

func (d *Directory) Import(ctx context.Context, name string, data []byte) (cache.Key, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.Newf("photostore: %s is empty", name)
	}
	key := newKey()
	meta, err := msgpack.Marshal(Meta{Name: name, Size: int64(len(data)), Imported: time.Now().UTC()})
	if err != nil {
		return "", errors.Wrap(err, "encode meta")
	}
	if err := d.writeFile(string(key)+sourceExt, data); err != nil {
		return "", err
	}
	if err := d.writeFile(string(key)+metaExt, meta); err != nil {
		_ = os.Remove(d.path(key, sourceExt))
		return "", err
	}
	return key, nil
}

func (d *Directory) LoadSourceBytes(ctx context.Context, key cache.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(key) {
		return nil, notFound(key)
	}
	data, err := os.ReadFile(d.path(key, sourceExt))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return data, nil
}

func (d *Directory) Meta(ctx context.Context, key cache.Key) (Meta, error) {
	var meta Meta
	if err := ctx.Err(); err != nil {
		return meta, err
	}
	if !validKey(key) {
		return meta, notFound(key)
	}
	data, err := os.ReadFile(d.path(key, metaExt))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, notFound(key)
		}
		return meta, errors.Wrapf(err, "read meta %s", key)
	}
	if err := msgpack.Unmarshal(data, &meta); err != nil {
		return meta, errors.Wrapf(err, "decode meta %s", key)
	}
	return meta, nil
}

func (d *Directory) Keys(ctx context.Context) ([]cache.Key, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", d.root)
	}
	type item struct {
		key      cache.Key
		imported time.Time
	}
	items := make([]item, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sourceExt) {
			continue
		}
		key := cache.Key(strings.TrimSuffix(name, sourceExt))
		if !validKey(key) {
			continue
		}
		meta, err := d.Meta(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		items = append(items, item{key: key, imported: meta.Imported})
	}
	slices.SortFunc(items, func(a, b item) int {
		if c := a.imported.Compare(b.imported); c != 0 {
			return c
		}
		return strings.Compare(string(a.key), string(b.key))
	})
	keys := make([]cache.Key, len(items))
	for i, it := range items {
		keys[i] = it.key
	}
	return keys, nil
}

func (d *Directory) Delete(ctx context.Context, key cache.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return notFound(key)
	}
	err := os.Remove(d.path(key, sourceExt))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(key)
	}
	if err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	if err := os.Remove(d.path(key, metaExt)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "delete meta %s", key)
	}
	return nil
}

func (d *Directory) Close() error {
	return nil
}

func (d *Directory) path(key cache.Key, ext string) string {
	return filepath.Join(d.root, string(key)+ext)
}

func (d *Directory) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(d.root, ".import-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "write %s", name)
	}
	if err := os.Rename(tmpName, filepath.Join(d.root, name)); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "rename %s", name)
	}
	return nil
}
