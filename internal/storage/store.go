// internal/storage/store.go
package storage

import (
	"context"
	"time"

	"github.com/cmatc13/orderless/pkg/config"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// ErrNotFound is returned by Tx.Get for a missing or expired key.
var ErrNotFound = errors.ErrNotFound

// errConflict marks an attempt that lost an optimistic race and may be retried.
var errConflict = errors.ErrConflict

// Tx is a view of the store inside Update or View. Reads observe the
// transaction's own writes.
type Tx interface {
	Get(key string) ([]byte, error)
	// Set stores value; a positive ttl makes the key expire.
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// Store is a key-value store with serializable read-write transactions.
type Store interface {
	// Update runs fn in a read-write transaction and commits its writes
	// atomically. fn may run more than once when a concurrent transaction
	// touches the keys it read; an error from fn aborts without writing.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// Options tune every backend.
type Options struct {
	// MaxRetries bounds conflict retries in Update.
	MaxRetries int
	// OnConflict is called for each lost race.
	OnConflict func(backend string)
	Logger     *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 16
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// Open creates the backend named by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, opts Options) (Store, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = cfg.Storage.ConflictRetry
	}

	switch cfg.Storage.Backend {
	case BackendMemory, "":
		return NewMemoryStore(opts), nil
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, opts)
	case BackendBadger:
		return NewBadgerStore(cfg.Storage.BadgerDir, cfg.Storage.BadgerInMemory, opts)
	default:
		return nil, errors.StorageErrorf(errors.StorageErrUnsupportedBackend,
			"unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// IsNotFound reports whether err means a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// retry runs attempt until it commits, fails for a reason other than a
// conflict, or runs out of retries.
func retry(ctx context.Context, backend string, opts Options, attempt func() error) error {
	for i := 0; ; i++ {
		err := attempt()
		if !errors.Is(err, errConflict) {
			return err
		}
		if opts.OnConflict != nil {
			opts.OnConflict(backend)
		}
		if i+1 >= opts.MaxRetries {
			return errors.StorageWrapWithCode(err, errors.OpUpdate, errors.StorageErrConflict,
				"transaction kept conflicting")
		}
		opts.Logger.Debug("Retrying conflicted transaction", "backend", backend, "attempt", i+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Millisecond):
		}
	}
}

// pendingWrite is a buffered Set or Delete.
type pendingWrite struct {
	key    string
	value  []byte
	ttl    time.Duration
	delete bool
}

// writeBuffer gives buffered transactions read-your-writes semantics.
type writeBuffer struct {
	order []string
	byKey map[string]pendingWrite
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{byKey: make(map[string]pendingWrite)}
}

func (b *writeBuffer) put(w pendingWrite) {
	if !w.delete {
		w.value = append([]byte{}, w.value...)
	}
	if _, ok := b.byKey[w.key]; !ok {
		b.order = append(b.order, w.key)
	}
	b.byKey[w.key] = w
}

// lookup returns the buffered value for key and whether the buffer holds
// key. A buffered delete yields a nil value.
func (b *writeBuffer) lookup(key string) ([]byte, bool) {
	w, ok := b.byKey[key]
	if !ok {
		return nil, false
	}
	if w.delete {
		return nil, true
	}
	return w.value, true
}

func (b *writeBuffer) writes() []pendingWrite {
	out := make([]pendingWrite, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, b.byKey[k])
	}
	return out
}

var errReadOnly = errors.New("write in read-only transaction")
