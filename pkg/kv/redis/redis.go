// Package redis implements kv.Store on Redis using go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/kv"
)

const (
	defaultPingTimeout = 5 * time.Second
	scanCount          = 100
)

// Config holds connection settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// Store is a kv.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	once   sync.Once
}

var _ kv.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable(ctx, err, fmt.Sprintf("ping redis (timeout=%s)", timeout))
	}

	counsel.LogInfo(ctx, "redis connection established", "addr", cfg.Addr, "db", cfg.DB)
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client without pinging it.
func NewFromClient(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

func unavailable(ctx context.Context, err error, op string) error {
	return counsel.KindErr(ctx, counsel.KindStoreUnavailable, err, op).Tag(slog.String("backend", "redis"))
}

// Get returns the value at key or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(ctx, err, "redis get")
	}
	return v, nil
}

// Set stores value with ttl; zero ttl keeps it forever.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable(ctx, err, "redis set")
	}
	return nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable(ctx, err, "redis del")
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable(ctx, err, "redis exists")
	}
	return n > 0, nil
}

// Keys walks the keyspace with SCAN so large databases are not blocked.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable(ctx, err, "redis scan")
	}
	return keys, nil
}

// Expire resets the TTL of key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var (
		ok  bool
		err error
	)
	if ttl <= 0 {
		ok, err = s.client.Persist(ctx, key).Result()
		if err == nil && !ok {
			// PERSIST reports false for keys without a TTL too.
			exists, existsErr := s.Exists(ctx, key)
			if existsErr != nil {
				return existsErr
			}
			ok = exists
		}
	} else {
		ok, err = s.client.Expire(ctx, key, ttl).Result()
	}
	if err != nil {
		return unavailable(ctx, err, "redis expire")
	}
	if !ok {
		return kv.ErrNotFound
	}
	return nil
}

// AppendList runs RPUSH, LTRIM and PEXPIRE inside MULTI/EXEC.
func (s *Store) AppendList(ctx context.Context, key string, maxLen int, ttl time.Duration, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, args...)
		if maxLen > 0 {
			pipe.LTrim(ctx, key, int64(-maxLen), -1)
		}
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return unavailable(ctx, err, "redis append list")
	}
	return nil
}

// List returns the full list, oldest first.
func (s *Store) List(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if errors.Is(err, goredis.Nil) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, unavailable(ctx, err, "redis lrange")
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(ctx, err, "redis ping")
	}
	return nil
}

// Close releases the connection pool. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() { err = s.client.Close() })
	return err
}
