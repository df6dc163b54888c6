// ABOUTME: Element version history with temporal queries
// ABOUTME: Each committed element change is snapshotted under (guid, version)

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/storage"
)

// Prefixes for history storage
const (
	PREFIX_HISTORY      = uint32(6000)
	PREFIX_HISTORY_TIME = uint32(6100) // Index by (guid, updateTime, version)
)

func snapshotKey(guid string, version int64) []byte {
	return storage.EncodeKey(PREFIX_HISTORY, []storage.Value{
		storage.NewStringValue(guid),
		storage.NewInt64Value(version),
	})
}

func timeKey(guid string, at time.Time, version int64) []byte {
	return storage.EncodeKey(PREFIX_HISTORY_TIME, []storage.Value{
		storage.NewStringValue(guid),
		storage.NewTimeValue(at),
		storage.NewInt64Value(version),
	})
}

// RecordTx snapshots e at its current version.
func RecordTx(tx storage.Tx, e *model.Element) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode history of %s: %w", e.GUID, err)
	}
	if err := tx.Set(snapshotKey(e.GUID, e.Version), data); err != nil {
		return err
	}
	return tx.Set(timeKey(e.GUID, e.UpdateTime, e.Version), []byte{})
}

// AsOfTx returns the snapshot that was current at asOf, or nil when the
// element did not exist yet.
func AsOfTx(tx storage.Tx, guid string, asOf time.Time) (*model.Element, error) {
	prefix := storage.Key(PREFIX_HISTORY_TIME, guid)

	var version int64
	found := false
	var decodeErr error
	err := tx.Scan(prefix, nil, func(key, _ []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) < 3 {
			decodeErr = fmt.Errorf("malformed history key for %s", guid)
			return false
		}
		// Keys are ordered by time, so the first later entry ends the scan
		if vals[1].Time.After(asOf) {
			return false
		}
		version = vals[2].I64
		found = true
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil || !found {
		return nil, decodeErr
	}
	return getTx(tx, guid, version)
}

func getTx(tx storage.Tx, guid string, version int64) (*model.Element, error) {
	data, ok, err := tx.Get(snapshotKey(guid, version))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("history of %s is missing version %d", guid, version)
	}
	var e model.Element
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode history of %s: %w", guid, err)
	}
	return &e, nil
}

// ListTx returns every snapshot of guid, oldest first.
func ListTx(tx storage.Tx, guid string) ([]*model.Element, error) {
	var versions []*model.Element
	var decodeErr error
	err := tx.Scan(storage.Key(PREFIX_HISTORY, guid), nil, func(_, val []byte) bool {
		var e model.Element
		if err := json.Unmarshal(val, &e); err != nil {
			decodeErr = fmt.Errorf("decode history of %s: %w", guid, err)
			return false
		}
		versions = append(versions, &e)
		return true
	})
	if err != nil {
		return nil, err
	}
	return versions, decodeErr
}

// PurgeTx drops the whole history of guid.
func PurgeTx(tx storage.Tx, guid string) error {
	for _, prefix := range [][]byte{
		storage.Key(PREFIX_HISTORY, guid),
		storage.Key(PREFIX_HISTORY_TIME, guid),
	} {
		keys, err := storage.ScanKeys(tx, prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// Store reads element history outside a caller's transaction.
type Store struct {
	kv storage.KV
}

// NewStore creates a history store
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// AsOf returns the version of guid that was current at asOf.
func (s *Store) AsOf(ctx context.Context, guid string, asOf time.Time) (*model.Element, error) {
	var e *model.Element
	err := s.kv.View(ctx, func(tx storage.Tx) error {
		var err error
		e, err = AsOfTx(tx, guid, asOf)
		return err
	})
	return e, err
}

// Versions returns the full history of guid, oldest first.
func (s *Store) Versions(ctx context.Context, guid string) ([]*model.Element, error) {
	var out []*model.Element
	err := s.kv.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = ListTx(tx, guid)
		return err
	})
	return out, err
}
