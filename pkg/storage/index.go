// ABOUTME: Secondary index maintenance for records stored under a primary key
// ABOUTME: Diffs old and new index keys so every write keeps indexes consistent

package storage

import "fmt"

// IndexDef derives the secondary keys of a record. Index entries carry an
// empty value; the key itself holds everything needed to find the record.
type IndexDef[T any] struct {
	Name string
	Keys func(rec *T) [][]byte
}

// IndexSet is the full list of secondary indexes for one record type.
type IndexSet[T any] []IndexDef[T]

// Apply moves the index entries of a record from old to updated within tx.
// A nil old means insert, a nil updated means delete.
func (s IndexSet[T]) Apply(tx Tx, old, updated *T) error {
	for _, idx := range s {
		stale := make(map[string]bool)
		if old != nil {
			for _, k := range idx.Keys(old) {
				stale[string(k)] = true
			}
		}
		if updated != nil {
			for _, k := range idx.Keys(updated) {
				if stale[string(k)] {
					delete(stale, string(k))
					continue
				}
				if err := tx.Set(k, []byte{}); err != nil {
					return fmt.Errorf("index %s: %w", idx.Name, err)
				}
			}
		}
		for k := range stale {
			if err := tx.Delete([]byte(k)); err != nil {
				return fmt.Errorf("index %s: %w", idx.Name, err)
			}
		}
	}
	return nil
}
