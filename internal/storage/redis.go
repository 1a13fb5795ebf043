// internal/storage/redis.go
package storage

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cmatc13/orderless/pkg/errors"
)

// RedisOptions locate the Redis server.
type RedisOptions struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore implements Store with WATCH/MULTI/EXEC optimistic transactions.
// Every key read inside Update is watched before it is read, so EXEC fails if
// another client changed it in between.
type RedisStore struct {
	Client *redis.Client
	prefix string
	opts   Options
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, ro RedisOptions, opts Options) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     ro.Address,
		Password: ro.Password,
		DB:       ro.DB,
	})

	// Test connection
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.StorageWrapWithCode(err, errors.OpConnect, errors.StorageErrConnection,
			"failed to connect to Redis at "+ro.Address)
	}

	return NewRedisStoreFromClient(client, ro.KeyPrefix, opts), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, opts Options) *RedisStore {
	return &RedisStore{Client: client, prefix: prefix, opts: opts.withDefaults()}
}

// Backend implements Store.
func (s *RedisStore) Backend() string { return BackendRedis }

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.Client.Ping(ctx).Err(); err != nil {
		return errors.StorageWrapWithCode(err, errors.OpPing, errors.StorageErrConnection, "redis ping failed")
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.Client.Close()
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, fn func(Tx) error) error {
	return retry(ctx, BackendRedis, s.opts, func() error {
		err := s.Client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{ctx: ctx, store: s, cmd: rtx, watch: rtx, buf: newWriteBuffer()}
			if err := fn(tx); err != nil {
				return err
			}

			writes := tx.buf.writes()
			if len(writes) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range writes {
					if w.delete {
						pipe.Del(ctx, s.key(w.key))
					} else {
						pipe.Set(ctx, s.key(w.key), w.value, w.ttl)
					}
				}
				return nil
			})
			return err
		})

		if errors.Is(err, redis.TxFailedErr) {
			return errConflict
		}
		return err
	})
}

// View implements Store.
func (s *RedisStore) View(ctx context.Context, fn func(Tx) error) error {
	return fn(&redisTx{ctx: ctx, store: s, cmd: s.Client})
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisTx struct {
	ctx   context.Context
	store *RedisStore
	cmd   getter
	watch *redis.Tx
	buf   *writeBuffer
}

func (t *redisTx) Get(key string) ([]byte, error) {
	if t.buf != nil {
		if v, ok := t.buf.lookup(key); ok {
			if v == nil {
				return nil, ErrNotFound
			}
			return append([]byte(nil), v...), nil
		}
	}

	full := t.store.key(key)
	if t.watch != nil {
		if err := t.watch.Watch(t.ctx, full).Err(); err != nil {
			return nil, errors.StorageWrapWithCode(err, errors.OpGet, errors.StorageErrRead, "failed to watch "+key)
		}
	}

	val, err := t.cmd.Get(t.ctx, full).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.StorageWrapWithCode(err, errors.OpGet, errors.StorageErrRead, "failed to read "+key)
	}
	return val, nil
}

func (t *redisTx) Set(key string, value []byte, ttl time.Duration) error {
	if t.buf == nil {
		return errReadOnly
	}
	t.buf.put(pendingWrite{key: key, value: value, ttl: ttl})
	return nil
}

func (t *redisTx) Delete(key string) error {
	if t.buf == nil {
		return errReadOnly
	}
	t.buf.put(pendingWrite{key: key, delete: true})
	return nil
}
