// ABOUTME: Ordered transactional key-value interface behind every store
// ABOUTME: Engines: badger (persistent), sqlite (single file) and memory

package storage

import (
	"context"
	"errors"
	"fmt"
)

// Engine names
const (
	EngineBadger = "badger"
	EngineSQLite = "sqlite"
	EngineMemory = "memory"
)

var (
	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("storage: write in read-only transaction")

	// ErrClosed is returned by operations on a closed KV.
	ErrClosed = errors.New("storage: closed")
)

// Tx is a transaction handle. Keys and values handed to Scan callbacks and
// returned by Get are owned by the caller.
type Tx interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, val []byte) error
	Delete(key []byte) error

	// Scan visits keys starting with prefix in ascending order, beginning at
	// start when it is non-empty. fn returns false to stop. Writes made
	// through the same Tx must not happen inside fn.
	Scan(prefix, start []byte, fn func(key, val []byte) bool) error
}

// KV is an ordered key-value store with atomic multi-key updates.
type KV interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction. Either every write made by
	// fn becomes visible or, when fn or the commit fails, none does.
	Update(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Config selects and configures an engine.
type Config struct {
	Engine     string
	Path       string
	InMemory   bool
	SyncWrites bool
}

// Open opens the configured engine.
func Open(cfg Config) (KV, error) {
	switch cfg.Engine {
	case EngineBadger, "":
		return OpenBadger(cfg.Path, cfg.InMemory, cfg.SyncWrites)
	case EngineSQLite:
		path := cfg.Path
		if cfg.InMemory {
			path = ":memory:"
		}
		return OpenSQLite(path)
	case EngineMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}

// ScanKeys collects the keys under prefix. Useful when the caller needs to
// write while walking an index.
func ScanKeys(tx Tx, prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := tx.Scan(prefix, nil, func(k, _ []byte) bool {
		keys = append(keys, k)
		return true
	})
	return keys, err
}

// ScanGUIDs collects the trailing string component of every key under prefix.
func ScanGUIDs(tx Tx, prefix []byte) ([]string, error) {
	var guids []string
	var decodeErr error
	err := tx.Scan(prefix, nil, func(k, _ []byte) bool {
		guid, err := LastString(k)
		if err != nil {
			decodeErr = err
			return false
		}
		guids = append(guids, guid)
		return true
	})
	if err != nil {
		return nil, err
	}
	return guids, decodeErr
}
