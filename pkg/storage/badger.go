package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// conflictRetries bounds how often an update is retried after badger
// reports a write conflict with a concurrent transaction.
const conflictRetries = 5

// BadgerKV is the persistent engine.
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens a badger database at path. inMemory ignores path.
func OpenBadger(path string, inMemory, syncWrites bool) (*BadgerKV, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(syncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (b *BadgerKV) Update(ctx context.Context, fn func(Tx) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = b.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn, writable: true})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

type badgerTx struct {
	txn      *badger.Txn
	writable bool
}

func (t *badgerTx) Get(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (t *badgerTx) Set(key, val []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	return t.txn.Set(bytes.Clone(key), bytes.Clone(val))
}

func (t *badgerTx) Delete(key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	return t.txn.Delete(bytes.Clone(key))
}

func (t *badgerTx) Scan(prefix, start []byte, fn func(key, val []byte) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if bytes.Compare(start, prefix) > 0 {
		seek = start
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !fn(item.KeyCopy(nil), val) {
			break
		}
	}
	return nil
}
