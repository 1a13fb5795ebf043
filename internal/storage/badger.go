package storage

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cmatc13/orderless/pkg/errors"
)

// BadgerStore implements Store on an embedded Badger database. Badger
// transactions are serializable snapshot isolated: a commit fails with
// badger.ErrConflict when a key the transaction read was written meanwhile.
type BadgerStore struct {
	db   *badger.DB
	opts Options
}

// NewBadgerStore opens the database in dir, or an in-memory one.
func NewBadgerStore(dir string, inMemory bool, opts Options) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(dir)
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.StorageWrapWithCode(err, errors.OpConnect, errors.StorageErrConnection,
			"failed to open badger database")
	}
	return &BadgerStore{db: db, opts: opts.withDefaults()}, nil
}

// Backend implements Store.
func (s *BadgerStore) Backend() string { return BackendBadger }

// Ping implements Store.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.NewStorageError(errors.StorageErrConnection, "badger database is closed", nil)
	}
	return ctx.Err()
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Update implements Store.
func (s *BadgerStore) Update(ctx context.Context, fn func(Tx) error) error {
	return retry(ctx, BackendBadger, s.opts, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
		if errors.Is(err, badger.ErrConflict) {
			return errConflict
		}
		return err
	})
}

// View implements Store.
func (s *BadgerStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn, readOnly: true})
	})
}

type badgerTx struct {
	txn      *badger.Txn
	readOnly bool
}

func (t *badgerTx) Get(key string) ([]byte, error) {
	item, err := t.txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.StorageWrapWithCode(err, errors.OpGet, errors.StorageErrRead, "failed to read "+key)
	}
	return item.ValueCopy(nil)
}

func (t *badgerTx) Set(key string, value []byte, ttl time.Duration) error {
	if t.readOnly {
		return errReadOnly
	}
	entry := badger.NewEntry([]byte(key), append([]byte{}, value...))
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	if err := t.txn.SetEntry(entry); err != nil {
		return errors.StorageWrapWithCode(err, errors.OpSet, errors.StorageErrWrite, "failed to write "+key)
	}
	return nil
}

func (t *badgerTx) Delete(key string) error {
	if t.readOnly {
		return errReadOnly
	}
	if err := t.txn.Delete([]byte(key)); err != nil {
		return errors.StorageWrapWithCode(err, errors.OpDelete, errors.StorageErrDelete, "failed to delete "+key)
	}
	return nil
}
