// Package photostore holds the full-resolution source photos the thumbnail
// cache generates from. Photos are identified by random UUID keys assigned on
// import, so a key never changes for the lifetime of a photo.
package photostore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pixvault/go-common/cache"
)

// DefaultQueryTimeout bounds every single storage operation.
const DefaultQueryTimeout = 5 * time.Second

var (
	// ErrNotFound is returned for keys the store does not hold.
	ErrNotFound = errors.New("photostore: photo not found")
	// ErrBreakerOpen is returned by a Guard that is failing fast.
	ErrBreakerOpen = errors.New("photostore: store unavailable, circuit open")
)

// Meta describes one imported photo.
type Meta struct {
	Name     string    `msgpack:"name" json:"name"`
	Size     int64     `msgpack:"size" json:"size"`
	Imported time.Time `msgpack:"imported" json:"imported"`
}

// Store is a PhotoStore that can also import and enumerate photos.
type Store interface {
	cache.PhotoStore
	Import(ctx context.Context, name string, data []byte) (cache.Key, error)
	Meta(ctx context.Context, key cache.Key) (Meta, error)
	// Keys lists every photo in import order.
	Keys(ctx context.Context) ([]cache.Key, error)
	Delete(ctx context.Context, key cache.Key) error
	Close() error
}

var (
	_ Store = (*Directory)(nil)
	_ Store = (*SQLite)(nil)
)

func newKey() cache.Key {
	return cache.Key(uuid.NewString())
}

// validKey reports whether key could have been issued by newKey.
func validKey(key cache.Key) bool {
	id, err := uuid.Parse(string(key))
	return err == nil && id.String() == string(key)
}

func notFound(key cache.Key) error {
	return errors.Wrapf(ErrNotFound, "key %s", key)
}
