// ABOUTME: Tests for element history
// ABOUTME: Verifies as-of lookups and purging

package history

import (
	"context"
	"testing"
	"time"

	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/storage"
)

func record(t *testing.T, kv storage.KV, e *model.Element) {
	t.Helper()
	err := kv.Update(context.Background(), func(tx storage.Tx) error {
		return RecordTx(tx, e)
	})
	if err != nil {
		t.Fatalf("Failed to record version %d: %v", e.Version, err)
	}
}

func TestAsOf(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	hs := NewStore(kv)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		record(t, kv, &model.Element{
			GUID:       "g1",
			TypeName:   "Glossary",
			Version:    int64(i + 1),
			UpdateTime: base.Add(time.Duration(i) * time.Hour),
			Properties: property.Bag{"displayName": property.String(name)},
		})
	}

	tests := []struct {
		at   time.Time
		want string
	}{
		{base.Add(-time.Minute), ""},
		{base, "first"},
		{base.Add(90 * time.Minute), "second"},
		{base.Add(48 * time.Hour), "third"},
	}
	for _, tt := range tests {
		got, err := hs.AsOf(ctx, "g1", tt.at)
		if err != nil {
			t.Fatalf("AsOf(%s) failed: %v", tt.at, err)
		}
		if tt.want == "" {
			if got != nil {
				t.Errorf("AsOf(%s): expected nil, got version %d", tt.at, got.Version)
			}
			continue
		}
		if got == nil {
			t.Fatalf("AsOf(%s): expected %s, got nil", tt.at, tt.want)
		}
		if name := got.Properties.GetString("displayName"); name != tt.want {
			t.Errorf("AsOf(%s): expected %s, got %s", tt.at, tt.want, name)
		}
	}

	versions, err := hs.Versions(ctx, "g1")
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("Expected 3 versions, got %d", len(versions))
	}
	if versions[0].Version != 1 || versions[2].Version != 3 {
		t.Errorf("Versions out of order: %d..%d", versions[0].Version, versions[2].Version)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	record(t, kv, &model.Element{GUID: "g1", Version: 1, UpdateTime: time.Now()})
	record(t, kv, &model.Element{GUID: "g2", Version: 1, UpdateTime: time.Now()})

	if err := kv.Update(ctx, func(tx storage.Tx) error { return PurgeTx(tx, "g1") }); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	versions, err := NewStore(kv).Versions(ctx, "g1")
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("Expected purged history, got %d versions", len(versions))
	}
	if kv.Len() != 2 {
		t.Errorf("Expected only g2 history to remain, found %d keys", kv.Len())
	}
}
