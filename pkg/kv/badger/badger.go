// Package badger implements kv.Store on an embedded BadgerDB, for single-node
// deployments that do not run Redis.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/kv"
)

// maxConflictRetries bounds optimistic retries of list read-modify-write.
const maxConflictRetries = 10

// Config selects on-disk or in-memory mode.
type Config struct {
	Path     string
	InMemory bool
}

// Store is a kv.Store backed by BadgerDB.
type Store struct {
	db *badger.DB
}

var _ kv.Store = (*Store)(nil)

// Open opens (or creates) the database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, unavailable(ctx, err, "open badger")
	}
	counsel.LogInfo(ctx, "badger store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Store{db: db}, nil
}

func unavailable(ctx context.Context, err error, op string) error {
	return counsel.KindErr(ctx, counsel.KindStoreUnavailable, err, op).Tag(slog.String("backend", "badger"))
}

func entry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// Get returns a copy of the value at key or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(ctx, err, "badger get")
	}
	return out, nil
}

// Set stores value with ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry(key, value, ttl))
	})
	if err != nil {
		return unavailable(ctx, err, "badger set")
	}
	return nil
}

// Delete removes keys in a single transaction.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable(ctx, err, "badger delete")
	}
	return nil
}

// Exists reports whether key is present and not expired.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(ctx, err, "badger exists")
	}
	return true, nil
}

// Keys seeks to the literal prefix of pattern and glob-matches from there.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	prefix := []byte(literalPrefix(pattern))

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := string(it.Item().KeyCopy(nil))
			if ok, _ := path.Match(pattern, k); ok {
				keys = append(keys, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(ctx, err, "badger keys")
	}
	return keys, nil
}

func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// Expire rewrites key with a new TTL.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.SetEntry(entry(key, val, ttl))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return kv.ErrNotFound
	}
	if err != nil {
		return unavailable(ctx, err, "badger expire")
	}
	return nil
}

// AppendList stores the list as one JSON value and relies on Badger's
// serializable transactions, retrying on conflict.
func (s *Store) AppendList(ctx context.Context, key string, maxLen int, ttl time.Duration, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			list, err := readList(txn, key)
			if err != nil {
				return err
			}
			list = append(list, values...)
			if maxLen > 0 && len(list) > maxLen {
				list = list[len(list)-maxLen:]
			}
			raw, err := json.Marshal(list)
			if err != nil {
				return err
			}
			return txn.SetEntry(entry(key, raw, ttl))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return unavailable(ctx, err, "badger append list")
	}
	return nil
}

// List returns the list at key, oldest first.
func (s *Store) List(ctx context.Context, key string) ([][]byte, error) {
	var list [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		list, err = readList(txn, key)
		return err
	})
	if err != nil {
		return nil, unavailable(ctx, err, "badger list")
	}
	if list == nil {
		list = [][]byte{}
	}
	return list, nil
}

func readList(txn *badger.Txn, key string) ([][]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list [][]byte
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &list)
	})
	return list, err
}

// Ping reports whether the database is still open.
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return unavailable(ctx, errors.New("database closed"), "badger ping")
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}
