// ABOUTME: Element records and secondary indexes (type, anchor, unique value, property value)
// ABOUTME: Transaction-scoped read and write helpers used by every element operation

package element

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nainya/anchorstore/pkg/classification"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// Prefixes for element storage
const (
	PREFIX_ELEMENT        = uint32(1000)
	PREFIX_ELEMENT_TYPE   = uint32(1100) // Index by (type, guid)
	PREFIX_ELEMENT_ANCHOR = uint32(1200) // Index by (anchorGUID, guid)
	PREFIX_ELEMENT_UNIQUE = uint32(1300) // Index by (property, value, guid) for unique attributes
	PREFIX_ELEMENT_VALUE  = uint32(1400) // Index by (property, value, guid) for string values
)

// MaxIndexedValueLen is the longest property value stored verbatim in an
// index key. Longer values are indexed by digest and re-checked against the
// record on lookup.
const MaxIndexedValueLen = 1024

const digestMarker = "\x00sha256:"

// indexedValue returns the index key component for a property value.
func indexedValue(s string) string {
	if len(s) <= MaxIndexedValueLen {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return digestMarker + hex.EncodeToString(sum[:])
}

func recordKey(guid string) []byte {
	return storage.Key(PREFIX_ELEMENT, guid)
}

func buildIndexes(types *typedef.Registry) storage.IndexSet[model.Element] {
	return storage.IndexSet[model.Element]{
		{Name: "type", Keys: func(e *model.Element) [][]byte {
			return [][]byte{storage.Key(PREFIX_ELEMENT_TYPE, e.TypeName, e.GUID)}
		}},
		{Name: "anchor", Keys: func(e *model.Element) [][]byte {
			if e.IsOwnAnchor() {
				return nil
			}
			return [][]byte{storage.Key(PREFIX_ELEMENT_ANCHOR, e.AnchorGUID, e.GUID)}
		}},
		{Name: "unique", Keys: func(e *model.Element) [][]byte {
			return uniqueKeys(types, e)
		}},
		{Name: "value", Keys: func(e *model.Element) [][]byte {
			var keys [][]byte
			for _, name := range e.Properties.Keys() {
				for _, s := range e.Properties[name].Strings() {
					keys = append(keys, storage.Key(PREFIX_ELEMENT_VALUE, name, indexedValue(s), e.GUID))
				}
			}
			return keys
		}},
	}
}

// uniqueKeys claims the unique attribute values of live elements only, so
// a soft-deleted element frees its qualified name.
func uniqueKeys(types *typedef.Registry, e *model.Element) [][]byte {
	if e.Status == model.StatusDeleted {
		return nil
	}
	var keys [][]byte
	for _, name := range types.UniqueAttributes(e.TypeName) {
		v, ok := e.Properties[name]
		if !ok || v.Text() == "" {
			continue
		}
		keys = append(keys, storage.Key(PREFIX_ELEMENT_UNIQUE, name, indexedValue(v.Text()), e.GUID))
	}
	return keys
}

// uniqueHolderTx returns the GUID of another element already holding the
// unique value, or "".
func uniqueHolderTx(tx storage.Tx, name, value, self string) (string, error) {
	guids, err := storage.ScanGUIDs(tx, storage.Key(PREFIX_ELEMENT_UNIQUE, name, indexedValue(value)))
	if err != nil {
		return "", err
	}
	for _, g := range guids {
		if g == self {
			continue
		}
		// digest keys can collide, the record decides
		holder, err := getRecordTx(tx, g)
		if err != nil {
			return "", err
		}
		if holder != nil && holder.Properties[name].Text() == value {
			return g, nil
		}
	}
	return "", nil
}

// getRecordTx reads the element record without its classifications.
func getRecordTx(tx storage.Tx, guid string) (*model.Element, error) {
	data, ok, err := tx.Get(recordKey(guid))
	if err != nil || !ok {
		return nil, err
	}
	var e model.Element
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode element %s: %w", guid, err)
	}
	return &e, nil
}

func putRecordTx(tx storage.Tx, e *model.Element) error {
	record := *e
	record.Classifications = nil
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("encode element %s: %w", e.GUID, err)
	}
	return tx.Set(recordKey(e.GUID), data)
}

// AnchoredTx lists the GUIDs of elements whose direct anchor is guid.
func AnchoredTx(tx storage.Tx, guid string) ([]string, error) {
	return storage.ScanGUIDs(tx, storage.Key(PREFIX_ELEMENT_ANCHOR, guid))
}

// TypeTx lists the GUIDs of elements of exactly typeName.
func TypeTx(tx storage.Tx, typeName string) ([]string, error) {
	return storage.ScanGUIDs(tx, storage.Key(PREFIX_ELEMENT_TYPE, typeName))
}

// ValueTx lists the GUIDs of elements whose property name holds value, or
// holds a list containing it.
// Long values are matched by digest, so callers re-check the record.
func ValueTx(tx storage.Tx, name, value string) ([]string, error) {
	return storage.ScanGUIDs(tx, storage.Key(PREFIX_ELEMENT_VALUE, name, indexedValue(value)))
}

// AllTx lists every element GUID in key order.
func AllTx(tx storage.Tx) ([]string, error) {
	return storage.ScanGUIDs(tx, storage.Key(PREFIX_ELEMENT))
}

// loadTx reads an element with its classifications.
func loadTx(tx storage.Tx, guid string) (*model.Element, error) {
	e, err := getRecordTx(tx, guid)
	if err != nil || e == nil {
		return nil, err
	}
	e.Classifications, err = classification.ListTx(tx, guid)
	if err != nil {
		return nil, err
	}
	return e, nil
}
