// ABOUTME: Relationship records and their end/type indexes
// ABOUTME: Transaction-scoped helpers shared by the relationship and element stores

package relationship

import (
	"encoding/json"
	"fmt"

	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/storage"
)

// Prefixes for relationship storage
const (
	PREFIX_RELATIONSHIP      = uint32(2000)
	PREFIX_RELATIONSHIP_END1 = uint32(2100) // Index by (end1GUID, type, relGUID)
	PREFIX_RELATIONSHIP_END2 = uint32(2200) // Index by (end2GUID, type, relGUID)
	PREFIX_RELATIONSHIP_TYPE = uint32(2300) // Index by (type, relGUID)
)

var indexes = storage.IndexSet[model.Relationship]{
	{Name: "end1", Keys: func(r *model.Relationship) [][]byte {
		return [][]byte{storage.Key(PREFIX_RELATIONSHIP_END1, r.End1GUID, r.TypeName, r.GUID)}
	}},
	{Name: "end2", Keys: func(r *model.Relationship) [][]byte {
		return [][]byte{storage.Key(PREFIX_RELATIONSHIP_END2, r.End2GUID, r.TypeName, r.GUID)}
	}},
	{Name: "type", Keys: func(r *model.Relationship) [][]byte {
		return [][]byte{storage.Key(PREFIX_RELATIONSHIP_TYPE, r.TypeName, r.GUID)}
	}},
}

func recordKey(guid string) []byte {
	return storage.Key(PREFIX_RELATIONSHIP, guid)
}

// PutTx writes r and moves its index entries from old, which may be nil.
func PutTx(tx storage.Tx, old, r *model.Relationship) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode relationship %s: %w", r.GUID, err)
	}
	if err := tx.Set(recordKey(r.GUID), data); err != nil {
		return err
	}
	return indexes.Apply(tx, old, r)
}

// GetTx returns the relationship or nil when it does not exist.
func GetTx(tx storage.Tx, guid string) (*model.Relationship, error) {
	data, ok, err := tx.Get(recordKey(guid))
	if err != nil || !ok {
		return nil, err
	}
	var r model.Relationship
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode relationship %s: %w", guid, err)
	}
	return &r, nil
}

// DeleteTx removes r and its index entries.
func DeleteTx(tx storage.Tx, r *model.Relationship) error {
	if err := tx.Delete(recordKey(r.GUID)); err != nil {
		return err
	}
	return indexes.Apply(tx, r, nil)
}

// GUIDsTx lists the relationship GUIDs incident to guid in direction dir,
// optionally narrowed to one relationship type. End1 matches come first,
// each group in key order, so the sequence is stable across calls.
func GUIDsTx(tx storage.Tx, guid, relType string, dir model.Direction) ([]string, error) {
	var prefixes [][]byte
	end := func(prefix uint32) []byte {
		if relType == "" {
			return storage.Key(prefix, guid)
		}
		return storage.Key(prefix, guid, relType)
	}
	switch dir {
	case model.DirectionFromEnd1:
		prefixes = [][]byte{end(PREFIX_RELATIONSHIP_END1)}
	case model.DirectionFromEnd2:
		prefixes = [][]byte{end(PREFIX_RELATIONSHIP_END2)}
	default:
		prefixes = [][]byte{end(PREFIX_RELATIONSHIP_END1), end(PREFIX_RELATIONSHIP_END2)}
	}

	seen := make(map[string]bool)
	var guids []string
	for _, prefix := range prefixes {
		found, err := storage.ScanGUIDs(tx, prefix)
		if err != nil {
			return nil, err
		}
		for _, g := range found {
			// Self links appear under both ends
			if !seen[g] {
				seen[g] = true
				guids = append(guids, g)
			}
		}
	}
	return guids, nil
}

// ListTx loads the relationships named by GUIDsTx.
func ListTx(tx storage.Tx, guid, relType string, dir model.Direction) ([]*model.Relationship, error) {
	guids, err := GUIDsTx(tx, guid, relType, dir)
	if err != nil {
		return nil, err
	}
	return loadTx(tx, guids)
}

func loadTx(tx storage.Tx, guids []string) ([]*model.Relationship, error) {
	rels := make([]*model.Relationship, 0, len(guids))
	for _, g := range guids {
		r, err := GetTx(tx, g)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, fmt.Errorf("relationship index refers to missing record %s", g)
		}
		rels = append(rels, r)
	}
	return rels, nil
}

// BetweenTx returns relationships joining a and b in either direction.
func BetweenTx(tx storage.Tx, a, b, relType string) ([]*model.Relationship, error) {
	rels, err := ListTx(tx, a, relType, model.DirectionAny)
	if err != nil {
		return nil, err
	}
	out := rels[:0]
	for _, r := range rels {
		if r.Other(a) == b {
			out = append(out, r)
		}
	}
	return out, nil
}
