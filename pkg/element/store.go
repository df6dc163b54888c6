// ABOUTME: Element store: create, update, status and read operations on metadata elements
// ABOUTME: Every write validates against the type registry and lands in one KV transaction

package element

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/classification"
	"github.com/nainya/anchorstore/pkg/history"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/relationship"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// Config carries the injectable collaborators of a Store.
type Config struct {
	Clock       func() time.Time
	NewGUID     func() string
	MaxPageSize int

	// DisableHistory stops version snapshots from being recorded.
	DisableHistory bool
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = func() time.Time { return time.Now().UTC() }
	}
	if c.NewGUID == nil {
		c.NewGUID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = model.DefaultMaxPageSize
	}
	return c
}

// Store manages metadata elements
type Store struct {
	kv      storage.KV
	types   *typedef.Registry
	rels    *relationship.Store
	indexes storage.IndexSet[model.Element]
	cfg     Config
}

// NewStore creates an element store together with the relationship store
// it uses for parent links.
func NewStore(kv storage.KV, types *typedef.Registry, cfg Config) *Store {
	cfg = cfg.withDefaults()
	s := &Store{
		kv:      kv,
		types:   types,
		indexes: buildIndexes(types),
		cfg:     cfg,
	}
	s.rels = relationship.NewStore(kv, types, s, relationship.Config{Clock: cfg.Clock, NewGUID: cfg.NewGUID})
	return s
}

// Relationships returns the relationship store bound to this element store.
func (s *Store) Relationships() *relationship.Store {
	return s.rels
}

// Types returns the registry the store validates against.
func (s *Store) Types() *typedef.Registry {
	return s.types
}

// KV returns the underlying key-value store.
func (s *Store) KV() storage.KV {
	return s.kv
}

// Now returns the store clock reading.
func (s *Store) Now() time.Time {
	return s.cfg.Clock()
}

// NewGUID allocates an element or relationship GUID.
func (s *Store) NewGUID() string {
	return s.cfg.NewGUID()
}

// NewElement describes an element to create.
type NewElement struct {
	TypeName        string
	Properties      property.Bag
	Classifications map[string]property.Bag
	Status          model.Status
	EffectiveFrom   *time.Time
	EffectiveTo     *time.Time
	Anchor          model.AnchorSpec
}

// GetTx reads an element with its classifications inside tx, whatever its
// status. It returns nil when the element does not exist.
func (s *Store) GetTx(tx storage.Tx, guid string) (*model.Element, error) {
	return loadTx(tx, guid)
}

// writeTx persists e and moves its index entries from old.
func (s *Store) writeTx(tx storage.Tx, old, e *model.Element) error {
	for _, name := range s.types.UniqueAttributes(e.TypeName) {
		v, ok := e.Properties[name]
		if !ok || v.Text() == "" || e.Status == model.StatusDeleted {
			continue
		}
		holder, err := uniqueHolderTx(tx, name, v.Text(), e.GUID)
		if err != nil {
			return err
		}
		if holder != "" {
			return apperror.InvalidParameter(apperror.CodeDuplicateValue,
				"%s %q is already used by element %s", name, v.Text(), holder).
				WithDetails("guid", holder)
		}
	}
	if err := putRecordTx(tx, e); err != nil {
		return err
	}
	if err := s.indexes.Apply(tx, old, e); err != nil {
		return err
	}
	if s.cfg.DisableHistory {
		return nil
	}
	return history.RecordTx(tx, e)
}

// InsertTx validates and writes a fully populated new element, including
// its classifications. The anchor, when set, must be a live element.
func (s *Store) InsertTx(tx storage.Tx, e *model.Element) error {
	if _, err := s.types.Lookup(e.TypeName, typedef.CategoryEntity); err != nil {
		return err
	}
	if err := s.types.ValidateProperties(e.TypeName, e.Properties, true); err != nil {
		return err
	}
	for name, c := range e.Classifications {
		if err := s.checkClassification(name, e.TypeName, c.Properties); err != nil {
			return err
		}
	}
	if existing, err := getRecordTx(tx, e.GUID); err != nil {
		return err
	} else if existing != nil {
		return apperror.PropertyServer(nil, apperror.CodeRepository, "element %s already exists", e.GUID)
	}
	if !e.IsOwnAnchor() {
		if _, err := s.liveTx(tx, e.AnchorGUID); err != nil {
			return err
		}
	}

	if err := s.writeTx(tx, nil, e); err != nil {
		return err
	}
	for _, c := range e.Classifications {
		if err := classification.PutTx(tx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) checkClassification(name, entityType string, props property.Bag) error {
	if err := s.types.CheckClassification(name, entityType); err != nil {
		return err
	}
	return s.types.ValidateProperties(name, props, true)
}

// liveTx returns the element or InvalidParameter when it is missing or
// soft-deleted.
func (s *Store) liveTx(tx storage.Tx, guid string) (*model.Element, error) {
	if guid == "" {
		return nil, apperror.InvalidParameter(apperror.CodeElementNotFound, "element GUID is empty")
	}
	e, err := loadTx(tx, guid)
	if err != nil {
		return nil, err
	}
	if e == nil || e.Status == model.StatusDeleted {
		return nil, apperror.InvalidParameter(apperror.CodeElementNotFound, "element %s does not exist", guid)
	}
	return e, nil
}

// Create writes a new element, its classifications and, when the anchor
// spec names a parent, the parent relationship, all in one transaction.
func (s *Store) Create(ctx context.Context, req NewElement) (string, error) {
	user := model.UserFrom(ctx)
	spec := req.Anchor
	if spec.HasParent() && spec.ParentRelationshipType == "" && spec.OwnAnchor {
		return "", apperror.InvalidParameter(apperror.CodeInvalidOption,
			"parent %s given without a relationship type or anchoring", spec.ParentGUID)
	}
	status := req.Status
	switch status {
	case "":
		status = model.StatusActive
	case model.StatusActive, model.StatusDraft:
	default:
		return "", apperror.InvalidParameter(apperror.CodeInvalidOption, "cannot create an element with status %s", status)
	}

	now := s.cfg.Clock()
	e := &model.Element{
		GUID:          s.cfg.NewGUID(),
		TypeName:      req.TypeName,
		Properties:    req.Properties.Clone(),
		Status:        status,
		Version:       1,
		CreatedBy:     user,
		CreateTime:    now,
		UpdatedBy:     user,
		UpdateTime:    now,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
	}
	if e.Properties == nil {
		e.Properties = property.Bag{}
	}
	e.AnchorGUID = e.GUID
	if spec.HasParent() && !spec.OwnAnchor {
		e.AnchorGUID = spec.ParentGUID
	}
	for name, props := range req.Classifications {
		if e.Classifications == nil {
			e.Classifications = make(map[string]*model.Classification)
		}
		e.Classifications[name] = &model.Classification{
			ElementGUID: e.GUID,
			TypeName:    name,
			Properties:  props.Clone(),
			CreatedBy:   user,
			CreateTime:  now,
			UpdatedBy:   user,
			UpdateTime:  now,
		}
	}

	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		if spec.HasParent() {
			if _, err := s.liveTx(tx, spec.ParentGUID); err != nil {
				return err
			}
		}
		if err := s.InsertTx(tx, e); err != nil {
			return err
		}
		if spec.HasParent() && spec.ParentRelationshipType != "" {
			end1, end2 := spec.ParentEnds(e.GUID)
			if _, err := s.rels.LinkTx(tx, spec.ParentRelationshipType, end1, end2, spec.ParentRelationshipProperties, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", apperror.Wrap(err, "create %s", req.TypeName)
	}
	return e.GUID, nil
}

// Update changes the properties of an element and reports whether anything
// changed. A non-empty expectedType must match the element type or one of
// its supertypes.
func (s *Store) Update(ctx context.Context, guid string, props property.Bag, mode model.UpdateMode, expectedType string) (bool, error) {
	if err := mode.Validate(); err != nil {
		return false, err
	}
	changed := false
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		changed = false
		current, err := s.liveTx(tx, guid)
		if err != nil {
			return err
		}
		if expectedType != "" && !s.types.IsSubtypeOf(current.TypeName, expectedType) {
			return apperror.InvalidParameter(apperror.CodeTypeMismatch,
				"element %s is a %s, not a %s", guid, current.TypeName, expectedType)
		}
		next := mode.Apply(current.Properties, props)
		if next.Equal(current.Properties) {
			return nil
		}
		if err := s.types.ValidateProperties(current.TypeName, next, true); err != nil {
			return err
		}
		updated := current.Clone()
		updated.Properties = next
		s.touch(ctx, updated)
		changed = true
		return s.writeTx(tx, current, updated)
	})
	if err != nil {
		return false, apperror.Wrap(err, "update element %s", guid)
	}
	return changed, nil
}

func (s *Store) touch(ctx context.Context, e *model.Element) {
	e.Version++
	e.UpdatedBy = model.UserFrom(ctx)
	e.UpdateTime = s.cfg.Clock()
}

// SetStatus moves an element between DRAFT and ACTIVE.
func (s *Store) SetStatus(ctx context.Context, guid string, status model.Status) error {
	if status != model.StatusDraft && status != model.StatusActive {
		return apperror.InvalidParameter(apperror.CodeInvalidOption, "status %s cannot be set directly", status)
	}
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		current, err := s.liveTx(tx, guid)
		if err != nil {
			return err
		}
		if current.Status == status {
			return nil
		}
		updated := current.Clone()
		updated.Status = status
		s.touch(ctx, updated)
		return s.writeTx(tx, current, updated)
	})
	return apperror.Wrap(err, "set status of %s", guid)
}

// Visible reports whether e should be returned under opts.
func (s *Store) Visible(e *model.Element, opts model.Options) bool {
	if e.Status == model.StatusDeleted && !opts.IncludeDeleted {
		return false
	}
	if opts.TypeName != "" && !s.types.IsSubtypeOf(e.TypeName, opts.TypeName) {
		return false
	}
	return e.EffectiveAt(opts.Effective(s.cfg.Clock()))
}

// ReadTx reads guid as seen under opts: the historical version when
// AsOfTime is set, nil when missing or not visible.
func (s *Store) ReadTx(tx storage.Tx, guid string, opts model.Options) (*model.Element, error) {
	var e *model.Element
	var err error
	if opts.AsOfTime != nil {
		e, err = history.AsOfTx(tx, guid, *opts.AsOfTime)
	} else {
		e, err = loadTx(tx, guid)
	}
	if err != nil || e == nil || !s.Visible(e, opts) {
		return nil, err
	}
	return e, nil
}

// Get returns the element, or nil when it does not exist or is not visible.
func (s *Store) Get(ctx context.Context, guid string, opts model.Options) (*model.Element, error) {
	if guid == "" {
		return nil, apperror.InvalidParameter(apperror.CodeElementNotFound, "element GUID is empty")
	}
	var e *model.Element
	err := s.kv.View(ctx, func(tx storage.Tx) error {
		var err error
		e, err = s.ReadTx(tx, guid, opts)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(err, "read element %s", guid)
	}
	return e, nil
}

// History returns every recorded version of guid, oldest first.
func (s *Store) History(ctx context.Context, guid string) ([]*model.Element, error) {
	versions, err := history.NewStore(s.kv).Versions(ctx, guid)
	return versions, apperror.Wrap(err, "history of %s", guid)
}
