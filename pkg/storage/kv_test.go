// ABOUTME: Behaviour tests shared by every KV engine
// ABOUTME: Covers get/set/delete, prefix scans, rollback and persistence

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engines(t *testing.T) map[string]func(t *testing.T) KV {
	t.Helper()
	return map[string]func(t *testing.T) KV{
		EngineMemory: func(t *testing.T) KV {
			return NewMemoryKV()
		},
		EngineBadger: func(t *testing.T) KV {
			kv, err := OpenBadger("", true, false)
			require.NoError(t, err)
			return kv
		},
		EngineSQLite: func(t *testing.T) KV {
			kv, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
			require.NoError(t, err)
			return kv
		},
	}
}

func forEachEngine(t *testing.T, fn func(t *testing.T, kv KV)) {
	for name, open := range engines(t) {
		t.Run(name, func(t *testing.T) {
			kv := open(t)
			defer kv.Close()
			fn(t, kv)
		})
	}
}

func TestKVBasicOperations(t *testing.T) {
	ctx := context.Background()
	forEachEngine(t, func(t *testing.T, kv KV) {
		require.NoError(t, kv.Update(ctx, func(tx Tx) error {
			if err := tx.Set([]byte("key1"), []byte("value1")); err != nil {
				return err
			}
			return tx.Set([]byte("key2"), []byte("value2"))
		}))

		require.NoError(t, kv.View(ctx, func(tx Tx) error {
			val, ok, err := tx.Get([]byte("key1"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "value1", string(val))

			_, ok, err = tx.Get([]byte("missing"))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))

		require.NoError(t, kv.Update(ctx, func(tx Tx) error {
			return tx.Delete([]byte("key1"))
		}))
		require.NoError(t, kv.View(ctx, func(tx Tx) error {
			_, ok, err := tx.Get([]byte("key1"))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))
	})
}

func TestKVScanPrefix(t *testing.T) {
	ctx := context.Background()
	forEachEngine(t, func(t *testing.T, kv KV) {
		require.NoError(t, kv.Update(ctx, func(tx Tx) error {
			for i := 0; i < 300; i++ {
				if err := tx.Set(Key(1, "parent", fmt.Sprintf("child-%03d", i)), []byte{}); err != nil {
					return err
				}
			}
			if err := tx.Set(Key(1, "parent2", "x"), []byte{}); err != nil {
				return err
			}
			return tx.Set(Key(2, "parent", "y"), []byte{})
		}))

		require.NoError(t, kv.View(ctx, func(tx Tx) error {
			guids, err := ScanGUIDs(tx, Key(1, "parent"))
			require.NoError(t, err)
			require.Len(t, guids, 300)
			assert.Equal(t, "child-000", guids[0])
			assert.Equal(t, "child-299", guids[299])

			var fromMiddle []string
			err = tx.Scan(Key(1, "parent"), Key(1, "parent", "child-250"), func(k, _ []byte) bool {
				g, _ := LastString(k)
				fromMiddle = append(fromMiddle, g)
				return len(fromMiddle) < 10
			})
			require.NoError(t, err)
			assert.Len(t, fromMiddle, 10)
			assert.Equal(t, "child-250", fromMiddle[0])
			return nil
		}))
	})
}

func TestKVUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	forEachEngine(t, func(t *testing.T, kv KV) {
		require.NoError(t, kv.Update(ctx, func(tx Tx) error {
			return tx.Set([]byte("stable"), []byte("1"))
		}))

		err := kv.Update(ctx, func(tx Tx) error {
			if err := tx.Set([]byte("partial"), []byte("x")); err != nil {
				return err
			}
			if err := tx.Delete([]byte("stable")); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		require.NoError(t, kv.View(ctx, func(tx Tx) error {
			_, ok, _ := tx.Get([]byte("partial"))
			assert.False(t, ok, "partial write must be rolled back")
			_, ok, _ = tx.Get([]byte("stable"))
			assert.True(t, ok, "delete must be rolled back")
			return nil
		}))
	})
}

func TestKVViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	err := kv.View(ctx, func(tx Tx) error {
		return tx.Set([]byte("k"), []byte("v"))
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestKVPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, engine := range []string{EngineBadger, EngineSQLite} {
		t.Run(engine, func(t *testing.T) {
			cfg := Config{Engine: engine, Path: filepath.Join(dir, engine)}
			if engine == EngineSQLite {
				cfg.Path += ".db"
			}

			kv, err := Open(cfg)
			require.NoError(t, err)
			require.NoError(t, kv.Update(ctx, func(tx Tx) error {
				return tx.Set([]byte("durable"), []byte("yes"))
			}))
			require.NoError(t, kv.Close())

			kv, err = Open(cfg)
			require.NoError(t, err)
			defer kv.Close()
			require.NoError(t, kv.View(ctx, func(tx Tx) error {
				val, ok, err := tx.Get([]byte("durable"))
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "yes", string(val))
				return nil
			}))
		})
	}
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open(Config{Engine: "floppy"})
	assert.Error(t, err)
}

type indexedRecord struct {
	ID   string
	Tags []string
}

func TestIndexSetApply(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	indexes := IndexSet[indexedRecord]{{
		Name: "tag",
		Keys: func(r *indexedRecord) [][]byte {
			var keys [][]byte
			for _, tag := range r.Tags {
				keys = append(keys, Key(9, tag, r.ID))
			}
			return keys
		},
	}}

	v1 := &indexedRecord{ID: "r1", Tags: []string{"a", "b"}}
	v2 := &indexedRecord{ID: "r1", Tags: []string{"b", "c"}}

	require.NoError(t, kv.Update(ctx, func(tx Tx) error { return indexes.Apply(tx, nil, v1) }))
	require.NoError(t, kv.Update(ctx, func(tx Tx) error { return indexes.Apply(tx, v1, v2) }))

	require.NoError(t, kv.View(ctx, func(tx Tx) error {
		for tag, want := range map[string]int{"a": 0, "b": 1, "c": 1} {
			guids, err := ScanGUIDs(tx, Key(9, tag))
			require.NoError(t, err)
			assert.Len(t, guids, want, tag)
		}
		return nil
	}))

	require.NoError(t, kv.Update(ctx, func(tx Tx) error { return indexes.Apply(tx, v2, nil) }))
	assert.Equal(t, 0, kv.Len())
}
