package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	backend "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "rosclient:param:"

// RedisStore keeps parameters in Redis so several masters can share them.
type RedisStore struct {
	client *backend.Client
	prefix string
}

var _ ParamStore = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key prefix for parameters.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore dials nothing; the first command opens the connection.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	val, err := s.client.Get(ctx, s.key(CanonicalKey(key))).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("registry: redis get %q: %w", key, err)
	}
	var out any
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return nil, false, fmt.Errorf("registry: decode param %q: %w", key, err)
	}
	return out, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	key = CanonicalKey(key)
	if key == "" {
		return ErrParamKeyRequired
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("registry: encode param %q: %w", key, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(key), data, 0)
	pipe.SAdd(ctx, s.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	key = CanonicalKey(key)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(key))
	pipe.SRem(ctx, s.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: redis list params: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks connectivity before the master starts serving.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
