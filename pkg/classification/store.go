// ABOUTME: Classification records keyed by (element, type) with a reverse type index
// ABOUTME: Transaction-scoped helpers used by the element store and cascade deletes

package classification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/storage"
)

// Prefixes for classification storage
const (
	PREFIX_CLASSIFICATION      = uint32(3000) // (elementGUID, typeName) -> record
	PREFIX_CLASSIFICATION_TYPE = uint32(3100) // Index by (typeName, elementGUID)
)

func recordKey(guid, typeName string) []byte {
	return storage.Key(PREFIX_CLASSIFICATION, guid, typeName)
}

func typeKey(typeName, guid string) []byte {
	return storage.Key(PREFIX_CLASSIFICATION_TYPE, typeName, guid)
}

// PutTx writes or replaces a classification.
func PutTx(tx storage.Tx, c *model.Classification) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode classification %s on %s: %w", c.TypeName, c.ElementGUID, err)
	}
	if err := tx.Set(recordKey(c.ElementGUID, c.TypeName), data); err != nil {
		return err
	}
	return tx.Set(typeKey(c.TypeName, c.ElementGUID), []byte{})
}

// GetTx returns the classification or nil when the element does not carry it.
func GetTx(tx storage.Tx, guid, typeName string) (*model.Classification, error) {
	data, ok, err := tx.Get(recordKey(guid, typeName))
	if err != nil || !ok {
		return nil, err
	}
	var c model.Classification
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode classification %s on %s: %w", typeName, guid, err)
	}
	return &c, nil
}

// ListTx returns every classification of an element keyed by type name.
func ListTx(tx storage.Tx, guid string) (map[string]*model.Classification, error) {
	var out map[string]*model.Classification
	var decodeErr error
	err := tx.Scan(storage.Key(PREFIX_CLASSIFICATION, guid), nil, func(_, val []byte) bool {
		var c model.Classification
		if err := json.Unmarshal(val, &c); err != nil {
			decodeErr = fmt.Errorf("decode classification on %s: %w", guid, err)
			return false
		}
		if out == nil {
			out = make(map[string]*model.Classification)
		}
		out[c.TypeName] = &c
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// DeleteTx removes one classification and reports whether it existed.
func DeleteTx(tx storage.Tx, guid, typeName string) (bool, error) {
	_, ok, err := tx.Get(recordKey(guid, typeName))
	if err != nil || !ok {
		return false, err
	}
	if err := tx.Delete(recordKey(guid, typeName)); err != nil {
		return false, err
	}
	return true, tx.Delete(typeKey(typeName, guid))
}

// DeleteAllTx removes every classification of an element.
func DeleteAllTx(tx storage.Tx, guid string) (int, error) {
	keys, err := storage.ScanKeys(tx, storage.Key(PREFIX_CLASSIFICATION, guid))
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		typeName, err := storage.LastString(k)
		if err != nil {
			return 0, err
		}
		if err := tx.Delete(k); err != nil {
			return 0, err
		}
		if err := tx.Delete(typeKey(typeName, guid)); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// ElementsTx lists the GUIDs of elements carrying typeName, in key order.
func ElementsTx(tx storage.Tx, typeName string) ([]string, error) {
	return storage.ScanGUIDs(tx, storage.Key(PREFIX_CLASSIFICATION_TYPE, typeName))
}

// Classified lists the GUIDs of elements carrying typeName.
func Classified(ctx context.Context, kv storage.KV, typeName string) ([]string, error) {
	var guids []string
	err := kv.View(ctx, func(tx storage.Tx) error {
		var err error
		guids, err = ElementsTx(tx, typeName)
		return err
	})
	return guids, err
}
