package photostore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/cache"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// SQLite keeps source photos as BLOBs in a single SQLite database.
type SQLite struct {
	db           *sql.DB
	queryTimeout time.Duration
	once         sync.Once
}

// NewSQLite opens or creates the database at dbPath.
// If dbPath is empty or ":memory:", an in-memory database is used.
func NewSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dbPath)
	}
	// every connection to :memory: would see its own empty database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	schema := []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS photos (
			key TEXT PRIMARY KEY,
			source BLOB NOT NULL,
			meta BLOB NOT NULL,
			imported_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_photos_imported_at ON photos(imported_at)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "init schema")
		}
	}

	return &SQLite{db: db, queryTimeout: DefaultQueryTimeout}, nil
}

func (s *SQLite) Import(ctx context.Context, name string, data []byte) (cache.Key, error) {
	if len(data) == 0 {
		return "", errors.Newf("photostore: %s is empty", name)
	}
	imported := time.Now().UTC()
	meta, err := msgpack.Marshal(Meta{Name: name, Size: int64(len(data)), Imported: imported})
	if err != nil {
		return "", errors.Wrap(err, "encode meta")
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	key := newKey()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO photos (key, source, meta, imported_at) VALUES (?, ?, ?, ?)`,
		string(key), data, meta, imported.UnixNano(),
	); err != nil {
		return "", errors.Wrapf(err, "insert %s", name)
	}
	return key, nil
}

func (s *SQLite) LoadSourceBytes(ctx context.Context, key cache.Key) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT source FROM photos WHERE key = ?`, string(key)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", key)
	}
	return data, nil
}

func (s *SQLite) Meta(ctx context.Context, key cache.Key) (Meta, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var meta Meta
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT meta FROM photos WHERE key = ?`, string(key)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, notFound(key)
	}
	if err != nil {
		return meta, errors.Wrapf(err, "load meta %s", key)
	}
	if err := msgpack.Unmarshal(data, &meta); err != nil {
		return meta, errors.Wrapf(err, "decode meta %s", key)
	}
	return meta, nil
}

func (s *SQLite) Keys(ctx context.Context) ([]cache.Key, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM photos ORDER BY imported_at, key`)
	if err != nil {
		return nil, errors.Wrap(err, "list photos")
	}
	defer rows.Close()

	var keys []cache.Key
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "scan key")
		}
		keys = append(keys, cache.Key(key))
	}
	return keys, errors.Wrap(rows.Err(), "list photos")
}

func (s *SQLite) Delete(ctx context.Context, key cache.Key) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE key = ?`, string(key))
	if err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	if rows == 0 {
		return notFound(key)
	}
	return nil
}

func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}
