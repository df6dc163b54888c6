package storage

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/tidwall/btree"
)

// MemoryKV is an in-process engine. Each update works on a copy-on-write
// clone of the tree which replaces the live tree only when fn succeeds.
type MemoryKV struct {
	mu     sync.RWMutex
	data   *btree.Map[string, []byte]
	closed bool
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: btree.NewMap[string, []byte](0)}
}

func (m *MemoryKV) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memoryTx{data: m.data})
}

func (m *MemoryKV) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	snapshot := m.data.Copy()
	if err := fn(&memoryTx{data: snapshot, writable: true}); err != nil {
		return err
	}
	m.data = snapshot
	return nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Len()
}

type memoryTx struct {
	data     *btree.Map[string, []byte]
	writable bool
}

func (t *memoryTx) Get(key []byte) ([]byte, bool, error) {
	v, ok := t.data.Get(string(key))
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (t *memoryTx) Set(key, val []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	t.data.Set(string(key), bytes.Clone(val))
	return nil
}

func (t *memoryTx) Delete(key []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	t.data.Delete(string(key))
	return nil
}

func (t *memoryTx) Scan(prefix, start []byte, fn func(key, val []byte) bool) error {
	pivot := prefix
	if bytes.Compare(start, prefix) > 0 {
		pivot = start
	}
	p := string(prefix)
	t.data.Ascend(string(pivot), func(k string, v []byte) bool {
		if !strings.HasPrefix(k, p) {
			return false
		}
		return fn([]byte(k), bytes.Clone(v))
	})
	return nil
}
