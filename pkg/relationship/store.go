// ABOUTME: Relationship store: typed directed edges between two elements
// ABOUTME: Link validates end types, detach is idempotent, pages follow a stable cursor

package relationship

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// ElementReader loads raw element records inside a transaction.
type ElementReader interface {
	GetTx(tx storage.Tx, guid string) (*model.Element, error)
}

// Config carries the injectable collaborators of a Store.
type Config struct {
	Clock   func() time.Time
	NewGUID func() string
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = func() time.Time { return time.Now().UTC() }
	}
	if c.NewGUID == nil {
		c.NewGUID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return c
}

// Store manages relationships
type Store struct {
	kv       storage.KV
	types    *typedef.Registry
	elements ElementReader
	cfg      Config
}

// NewStore creates a relationship store
func NewStore(kv storage.KV, types *typedef.Registry, elements ElementReader, cfg Config) *Store {
	return &Store{kv: kv, types: types, elements: elements, cfg: cfg.withDefaults()}
}

// Visible reports whether r should be returned under opts.
func Visible(r *model.Relationship, opts model.Options, now time.Time) bool {
	if r.Status == model.StatusDeleted && !opts.IncludeDeleted {
		return false
	}
	return r.EffectiveAt(opts.Effective(now))
}

func (s *Store) liveEnd(tx storage.Tx, guid, end string) (*model.Element, error) {
	if guid == "" {
		return nil, apperror.InvalidParameter(apperror.CodeInvalidEnd, "%s GUID is empty", end)
	}
	e, err := s.elements.GetTx(tx, guid)
	if err != nil {
		return nil, apperror.Wrap(err, "read %s %s", end, guid)
	}
	if e == nil || e.Status == model.StatusDeleted {
		return nil, apperror.InvalidParameter(apperror.CodeElementNotFound, "%s element %s does not exist", end, guid)
	}
	return e, nil
}

// LinkTx creates a relationship inside tx after validating its ends.
func (s *Store) LinkTx(tx storage.Tx, typeName, end1, end2 string, props property.Bag, user string) (*model.Relationship, error) {
	if _, err := s.types.Lookup(typeName, typedef.CategoryRelationship); err != nil {
		return nil, err
	}
	e1, err := s.liveEnd(tx, end1, "end1")
	if err != nil {
		return nil, err
	}
	e2, err := s.liveEnd(tx, end2, "end2")
	if err != nil {
		return nil, err
	}
	if err := s.types.CheckEnds(typeName, e1.TypeName, e2.TypeName); err != nil {
		return nil, err
	}
	if err := s.types.ValidateProperties(typeName, props, true); err != nil {
		return nil, err
	}

	now := s.cfg.Clock()
	r := &model.Relationship{
		GUID:       s.cfg.NewGUID(),
		TypeName:   typeName,
		End1GUID:   end1,
		End2GUID:   end2,
		Properties: props.Clone(),
		Status:     model.StatusActive,
		Version:    1,
		CreatedBy:  user,
		CreateTime: now,
		UpdatedBy:  user,
		UpdateTime: now,
	}
	if err := PutTx(tx, nil, r); err != nil {
		return nil, apperror.Wrap(err, "write relationship %s", r.GUID)
	}
	return r, nil
}

// Link creates a relationship of typeName from end1 to end2.
func (s *Store) Link(ctx context.Context, typeName, end1, end2 string, props property.Bag) (*model.Relationship, error) {
	var r *model.Relationship
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		var err error
		r, err = s.LinkTx(tx, typeName, end1, end2, props, model.UserFrom(ctx))
		return err
	})
	return r, err
}

// DetachTx removes every relationship of typeName joining the two
// elements in either direction and returns how many were removed.
func DetachTx(tx storage.Tx, typeName, end1, end2 string) (int, error) {
	rels, err := BetweenTx(tx, end1, end2, typeName)
	if err != nil {
		return 0, err
	}
	for _, r := range rels {
		if err := DeleteTx(tx, r); err != nil {
			return 0, err
		}
	}
	return len(rels), nil
}

// Detach removes matching relationships. Finding none is not an error.
func (s *Store) Detach(ctx context.Context, typeName, end1, end2 string) (int, error) {
	if _, err := s.types.Lookup(typeName, typedef.CategoryRelationship); err != nil {
		return 0, err
	}
	if end1 == "" || end2 == "" {
		return 0, apperror.InvalidParameter(apperror.CodeInvalidEnd, "detach %s needs both end GUIDs", typeName)
	}
	var removed int
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		var err error
		removed, err = DetachTx(tx, typeName, end1, end2)
		return err
	})
	if err != nil {
		return 0, apperror.Wrap(err, "detach %s between %s and %s", typeName, end1, end2)
	}
	return removed, nil
}

// Between returns the visible relationships joining guid and other. An
// empty relType matches every type.
func (s *Store) Between(ctx context.Context, guid, other, relType string, opts model.Options) ([]*model.Relationship, error) {
	if guid == "" || other == "" {
		return nil, apperror.InvalidParameter(apperror.CodeInvalidEnd, "both element GUIDs are required")
	}
	if relType != "" {
		if _, err := s.types.Lookup(relType, typedef.CategoryRelationship); err != nil {
			return nil, err
		}
	}
	var rels []*model.Relationship
	err := s.kv.View(ctx, func(tx storage.Tx) error {
		var err error
		rels, err = BetweenTx(tx, guid, other, relType)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(err, "relationships between %s and %s", guid, other)
	}
	return s.filter(rels, opts), nil
}

func (s *Store) filter(rels []*model.Relationship, opts model.Options) []*model.Relationship {
	now := s.cfg.Clock()
	out := make([]*model.Relationship, 0, len(rels))
	for _, r := range rels {
		if Visible(r, opts, now) {
			out = append(out, r)
		}
	}
	return out
}

// Get returns the relationship, or nil when it is missing or not visible.
func (s *Store) Get(ctx context.Context, guid string, opts model.Options) (*model.Relationship, error) {
	var r *model.Relationship
	err := s.kv.View(ctx, func(tx storage.Tx) error {
		var err error
		r, err = GetTx(tx, guid)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(err, "read relationship %s", guid)
	}
	if r == nil || !Visible(r, opts, s.cfg.Clock()) {
		return nil, nil
	}
	return r, nil
}

// Update changes the properties of a relationship. It reports whether
// anything changed; the endpoints are never touched.
func (s *Store) Update(ctx context.Context, guid string, props property.Bag, mode model.UpdateMode) (*model.Relationship, bool, error) {
	if err := mode.Validate(); err != nil {
		return nil, false, err
	}
	var updated *model.Relationship
	changed := false
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		changed = false
		current, err := GetTx(tx, guid)
		if err != nil {
			return err
		}
		if current == nil || current.Status == model.StatusDeleted {
			return apperror.InvalidParameter(apperror.CodeRelationshipNotFound, "relationship %s does not exist", guid)
		}
		next := mode.Apply(current.Properties, props)
		if next.Equal(current.Properties) {
			updated = current
			return nil
		}
		if err := s.types.ValidateProperties(current.TypeName, next, true); err != nil {
			return err
		}
		updated = current.Clone()
		updated.Properties = next
		updated.Version++
		updated.UpdatedBy = model.UserFrom(ctx)
		updated.UpdateTime = s.cfg.Clock()
		changed = true
		return PutTx(tx, current, updated)
	})
	if err != nil {
		return nil, false, apperror.Wrap(err, "update relationship %s", guid)
	}
	return updated, changed, nil
}

// Delete removes one relationship by GUID.
func (s *Store) Delete(ctx context.Context, guid string) error {
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		r, err := GetTx(tx, guid)
		if err != nil {
			return err
		}
		if r == nil {
			return apperror.InvalidParameter(apperror.CodeRelationshipNotFound, "relationship %s does not exist", guid)
		}
		return DeleteTx(tx, r)
	})
	return apperror.Wrap(err, "delete relationship %s", guid)
}

// List returns every visible relationship incident to guid.
func (s *Store) List(ctx context.Context, guid, relType string, dir model.Direction, opts model.Options) ([]*model.Relationship, error) {
	var rels []*model.Relationship
	err := s.kv.View(ctx, func(tx storage.Tx) error {
		var err error
		rels, err = ListTx(tx, guid, relType, dir)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(err, "list relationships of %s", guid)
	}
	return s.filter(rels, opts), nil
}

// Page returns up to size visible relationships starting at position start
// of the stable index order, and whether more remain after this page.
func (s *Store) Page(ctx context.Context, guid, relType string, dir model.Direction, start, size int, opts model.Options) ([]*model.Relationship, bool, error) {
	if start < 0 || size <= 0 {
		return nil, false, apperror.InvalidParameter(apperror.CodeInvalidOption, "invalid page start %d size %d", start, size)
	}
	var rels []*model.Relationship
	hasMore := false
	err := s.kv.View(ctx, func(tx storage.Tx) error {
		guids, err := GUIDsTx(tx, guid, relType, dir)
		if err != nil {
			return err
		}
		if start >= len(guids) {
			rels = nil
			return nil
		}
		end := min(start+size, len(guids))
		hasMore = end < len(guids)
		rels, err = loadTx(tx, guids[start:end])
		return err
	})
	if err != nil {
		return nil, false, apperror.Wrap(err, "page relationships of %s", guid)
	}
	return s.filter(rels, opts), hasMore, nil
}
