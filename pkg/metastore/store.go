// ABOUTME: Primary API of the metadata store, wiring every component by injection
// ABOUTME: Adds authorization, operation metrics and structured logs around each call

package metastore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/nainya/anchorstore/internal/logger"
	"github.com/nainya/anchorstore/pkg/anchor"
	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/element"
	"github.com/nainya/anchorstore/pkg/journal"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/query"
	"github.com/nainya/anchorstore/pkg/relationship"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/template"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// Recorder receives operation metrics.
type Recorder interface {
	query.Observer
	RecordStoreOperation(operation, status string, duration time.Duration)
	RecordCascade(res model.CascadeResult, err error)
	RecordClone(elements int)
}

type nopRecorder struct{}

func (nopRecorder) PageFetched(string)                                 {}
func (nopRecorder) NullSkipped(string)                                 {}
func (nopRecorder) RecordStoreOperation(string, string, time.Duration) {}
func (nopRecorder) RecordCascade(model.CascadeResult, error)           {}
func (nopRecorder) RecordClone(int)                                    {}

// Dependencies are the collaborators of a Store. KV and Types are required.
type Dependencies struct {
	KV         storage.KV
	Types      *typedef.Registry
	Journal    journal.Intents
	Authorizer Authorizer
	Recorder   Recorder
	Logger     *logger.Logger

	MaxPageSize    int
	Clock          func() time.Time
	NewGUID        func() string
	DisableHistory bool
}

// Store is the metadata store API used by entity handlers.
type Store struct {
	kv       storage.KV
	types    *typedef.Registry
	journal  journal.Intents
	elements *element.Store
	rels     *relationship.Store
	resolver *anchor.Resolver
	cloner   *template.Cloner
	engine   *query.Engine
	authz    Authorizer
	recorder Recorder
	logger   *logger.Logger
}

// New wires a Store from its dependencies.
func New(deps Dependencies) (*Store, error) {
	if deps.KV == nil {
		return nil, errors.New("metastore: KV is required")
	}
	if deps.Types == nil {
		return nil, errors.New("metastore: type registry is required")
	}
	if deps.Journal == nil {
		deps.Journal = journal.Discard{}
	}
	if deps.Authorizer == nil {
		deps.Authorizer = AllowAll{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.MaxPageSize <= 0 {
		deps.MaxPageSize = model.DefaultMaxPageSize
	}

	elements := element.NewStore(deps.KV, deps.Types, element.Config{
		Clock:          deps.Clock,
		NewGUID:        deps.NewGUID,
		MaxPageSize:    deps.MaxPageSize,
		DisableHistory: deps.DisableHistory,
	})
	s := &Store{
		kv:       deps.KV,
		types:    deps.Types,
		journal:  deps.Journal,
		elements: elements,
		rels:     elements.Relationships(),
		resolver: anchor.NewResolver(elements, anchor.Config{
			Journal: deps.Journal,
			Logger:  deps.Logger.Component("anchor"),
		}),
		cloner: template.NewCloner(elements, deps.Logger.Component("template")),
		engine: query.NewEngine(elements, elements.Relationships(), query.Config{
			FetchSize:   deps.MaxPageSize,
			MaxPageSize: deps.MaxPageSize,
			Logger:      deps.Logger.Component("query"),
			Observer:    deps.Recorder,
		}),
		authz:    deps.Authorizer,
		recorder: deps.Recorder,
		logger:   deps.Logger,
	}
	return s, nil
}

// Types returns the type registry.
func (s *Store) Types() *typedef.Registry {
	return s.types
}

func (s *Store) observe(ctx context.Context, op string, fn func() (int, error)) error {
	start := time.Now()
	count, err := fn()
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = apperror.KindOf(err).String()
	}
	s.recorder.RecordStoreOperation(op, status, duration)
	s.logger.GraphLogger(op).LogStoreOperation(model.UserFrom(ctx), duration, count, err)
	return err
}

func (s *Store) authorize(ctx context.Context, op Operation, typeName string) error {
	user := model.UserFrom(ctx)
	if err := s.authz.Authorize(ctx, user, op, typeName); err != nil {
		return denied(err, user, op, typeName)
	}
	return nil
}

// authorizeGUID checks access to an existing element. Unknown GUIDs are
// checked with an empty type and left for the operation to reject.
func (s *Store) authorizeGUID(ctx context.Context, op Operation, guid string) error {
	typeName := ""
	if guid != "" {
		e, err := s.elements.Get(ctx, guid, model.Options{IncludeDeleted: true})
		if err != nil {
			return err
		}
		if e != nil {
			typeName = e.TypeName
		}
	}
	return s.authorize(ctx, op, typeName)
}

// CreateElement creates an element with its classifications and optional
// parent link in one transaction.
func (s *Store) CreateElement(ctx context.Context, req element.NewElement) (string, error) {
	var guid string
	err := s.observe(ctx, "CreateElement", func() (int, error) {
		if err := s.authorize(ctx, OpCreate, req.TypeName); err != nil {
			return 0, err
		}
		var err error
		guid, err = s.elements.Create(ctx, req)
		return 1, err
	})
	return guid, err
}

// CreateFromTemplate clones a template and everything anchored to it.
func (s *Store) CreateFromTemplate(ctx context.Context, req template.Request) (template.Result, error) {
	var res template.Result
	err := s.observe(ctx, "CreateFromTemplate", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpRead, req.TemplateGUID); err != nil {
			return 0, err
		}
		if err := s.authorizeGUID(ctx, OpCreate, req.TemplateGUID); err != nil {
			return 0, err
		}
		var err error
		res, err = s.cloner.Clone(ctx, req)
		if err == nil {
			s.recorder.RecordClone(res.Elements)
		}
		return res.Elements, err
	})
	return res, err
}

// UpdateElement changes element properties and reports whether anything
// changed.
func (s *Store) UpdateElement(ctx context.Context, guid string, props property.Bag, mode model.UpdateMode) (bool, error) {
	return s.UpdateTyped(ctx, guid, "", props, mode)
}

// UpdateTyped is UpdateElement with a check that the element is of
// expectedType or one of its subtypes.
func (s *Store) UpdateTyped(ctx context.Context, guid, expectedType string, props property.Bag, mode model.UpdateMode) (bool, error) {
	var changed bool
	err := s.observe(ctx, "UpdateElement", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpUpdate, guid); err != nil {
			return 0, err
		}
		var err error
		changed, err = s.elements.Update(ctx, guid, props, mode, expectedType)
		if changed {
			return 1, err
		}
		return 0, err
	})
	return changed, err
}

// SetStatus moves an element between DRAFT and ACTIVE.
func (s *Store) SetStatus(ctx context.Context, guid string, status model.Status) error {
	return s.observe(ctx, "SetStatus", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpUpdate, guid); err != nil {
			return 0, err
		}
		return 1, s.elements.SetStatus(ctx, guid, status)
	})
}

// DeleteElement removes an element, everything anchored to it and every
// incident relationship. The result reports progress even on failure.
func (s *Store) DeleteElement(ctx context.Context, guid string, opts model.DeleteOptions) (model.CascadeResult, error) {
	res := model.CascadeResult{RootGUID: guid}
	err := s.observe(ctx, "DeleteElement", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpDelete, guid); err != nil {
			return 0, err
		}
		var err error
		res, err = s.resolver.Delete(ctx, guid, opts)
		s.recorder.RecordCascade(res, err)
		return res.ElementsDeleted, err
	})
	return res, err
}

// Resume finishes cascading deletes interrupted by a crash.
func (s *Store) Resume(ctx context.Context) ([]model.CascadeResult, error) {
	var results []model.CascadeResult
	err := s.observe(ctx, "Resume", func() (int, error) {
		var err error
		results, err = s.resolver.Resume(ctx)
		for _, r := range results {
			s.recorder.RecordCascade(r, nil)
		}
		return len(results), err
	})
	return results, err
}

// Anchor returns the root anchor of guid.
func (s *Store) Anchor(ctx context.Context, guid string) (string, error) {
	var root string
	err := s.observe(ctx, "Anchor", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpRead, guid); err != nil {
			return 0, err
		}
		var err error
		root, err = s.resolver.Anchor(ctx, guid)
		return 1, err
	})
	return root, err
}

// AnchoredSet returns guid and everything anchored to it, parents first.
func (s *Store) AnchoredSet(ctx context.Context, guid string) ([]string, error) {
	var set []string
	err := s.observe(ctx, "AnchoredSet", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpRead, guid); err != nil {
			return 0, err
		}
		var err error
		set, err = s.resolver.AnchoredSet(ctx, guid)
		return len(set), err
	})
	return set, err
}

// Classify attaches a classification.
func (s *Store) Classify(ctx context.Context, guid, classification string, props property.Bag) error {
	return s.observe(ctx, "Classify", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpClassify, guid); err != nil {
			return 0, err
		}
		return 1, s.elements.Classify(ctx, guid, classification, props)
	})
}

// Reclassify changes the properties of an existing classification.
func (s *Store) Reclassify(ctx context.Context, guid, classification string, props property.Bag, mode model.UpdateMode) error {
	return s.observe(ctx, "Reclassify", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpClassify, guid); err != nil {
			return 0, err
		}
		return 1, s.elements.Reclassify(ctx, guid, classification, props, mode)
	})
}

// Declassify removes a classification. Removing an absent one is a no-op.
func (s *Store) Declassify(ctx context.Context, guid, classification string) (bool, error) {
	var removed bool
	err := s.observe(ctx, "Declassify", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpClassify, guid); err != nil {
			return 0, err
		}
		var err error
		removed, err = s.elements.Declassify(ctx, guid, classification)
		if removed {
			return 1, err
		}
		return 0, err
	})
	return removed, err
}

// Classified returns the elements carrying a classification.
func (s *Store) Classified(ctx context.Context, classification string, opts model.Options) ([]*model.Element, error) {
	var out []*model.Element
	err := s.observe(ctx, "Classified", func() (int, error) {
		if err := s.authorize(ctx, OpRead, opts.TypeName); err != nil {
			return 0, err
		}
		var err error
		out, err = s.elements.Classified(ctx, classification, opts)
		return len(out), err
	})
	return out, err
}

// LinkElements creates a relationship and returns its GUID.
func (s *Store) LinkElements(ctx context.Context, relType, end1, end2 string, props property.Bag) (string, error) {
	var guid string
	err := s.observe(ctx, "LinkElements", func() (int, error) {
		if err := s.authorize(ctx, OpLink, relType); err != nil {
			return 0, err
		}
		r, err := s.rels.Link(ctx, relType, end1, end2, props)
		if err != nil {
			return 0, err
		}
		guid = r.GUID
		return 1, nil
	})
	return guid, err
}

// DetachElements removes every relationship of relType between the two
// elements, in either direction. Finding none is not an error.
func (s *Store) DetachElements(ctx context.Context, relType, end1, end2 string) (int, error) {
	var removed int
	err := s.observe(ctx, "DetachElements", func() (int, error) {
		if err := s.authorize(ctx, OpLink, relType); err != nil {
			return 0, err
		}
		var err error
		removed, err = s.rels.Detach(ctx, relType, end1, end2)
		return removed, err
	})
	return removed, err
}

// GetRelationshipsBetween lists relationships joining guid and other.
func (s *Store) GetRelationshipsBetween(ctx context.Context, guid, other, relType string, opts model.Options) ([]*model.Relationship, error) {
	var rels []*model.Relationship
	err := s.observe(ctx, "GetRelationshipsBetween", func() (int, error) {
		if err := s.authorize(ctx, OpRead, relType); err != nil {
			return 0, err
		}
		var err error
		rels, err = s.rels.Between(ctx, guid, other, relType, opts)
		return len(rels), err
	})
	return rels, err
}

// GetRelationship returns a relationship or nil.
func (s *Store) GetRelationship(ctx context.Context, guid string, opts model.Options) (*model.Relationship, error) {
	var r *model.Relationship
	err := s.observe(ctx, "GetRelationship", func() (int, error) {
		if err := s.authorize(ctx, OpRead, ""); err != nil {
			return 0, err
		}
		var err error
		r, err = s.rels.Get(ctx, guid, opts)
		if r == nil {
			return 0, err
		}
		return 1, err
	})
	return r, err
}

// UpdateRelationship changes relationship properties and reports whether
// anything changed.
func (s *Store) UpdateRelationship(ctx context.Context, guid string, props property.Bag, mode model.UpdateMode) (bool, error) {
	var changed bool
	err := s.observe(ctx, "UpdateRelationship", func() (int, error) {
		if err := s.authorize(ctx, OpLink, ""); err != nil {
			return 0, err
		}
		var err error
		_, changed, err = s.rels.Update(ctx, guid, props, mode)
		return 1, err
	})
	return changed, err
}

// DeleteRelationship removes one relationship by GUID.
func (s *Store) DeleteRelationship(ctx context.Context, guid string) error {
	return s.observe(ctx, "DeleteRelationship", func() (int, error) {
		if err := s.authorize(ctx, OpLink, ""); err != nil {
			return 0, err
		}
		return 1, s.rels.Delete(ctx, guid)
	})
}

// GetByGUID returns the element, or nil when it is missing or not visible
// under opts.
func (s *Store) GetByGUID(ctx context.Context, guid string, opts model.Options) (*model.Element, error) {
	var e *model.Element
	err := s.observe(ctx, "GetByGUID", func() (int, error) {
		var err error
		e, err = s.elements.Get(ctx, guid, opts)
		if err != nil || e == nil {
			return 0, err
		}
		if err := s.authorize(ctx, OpRead, e.TypeName); err != nil {
			e = nil
			return 0, err
		}
		return 1, nil
	})
	return e, err
}

// History returns every recorded version of an element, oldest first.
func (s *Store) History(ctx context.Context, guid string) ([]*model.Element, error) {
	var versions []*model.Element
	err := s.observe(ctx, "History", func() (int, error) {
		if err := s.authorizeGUID(ctx, OpRead, guid); err != nil {
			return 0, err
		}
		var err error
		versions, err = s.elements.History(ctx, guid)
		return len(versions), err
	})
	return versions, err
}

// GetByName returns elements where any of props equals name exactly. An
// empty props list uses the default name properties.
func (s *Store) GetByName(ctx context.Context, name string, props []string, opts model.Options) ([]*model.Element, error) {
	var out []*model.Element
	err := s.observe(ctx, "GetByName", func() (int, error) {
		if err := s.authorize(ctx, OpRead, opts.TypeName); err != nil {
			return 0, err
		}
		var err error
		out, err = s.engine.GetByName(ctx, name, props, opts)
		return len(out), err
	})
	return out, err
}

// Find returns elements whose searchable properties match the regular
// expression search. props overrides the searchable properties of the type.
func (s *Store) Find(ctx context.Context, search string, opts model.Options, props ...string) ([]*model.Element, error) {
	var out []*model.Element
	err := s.observe(ctx, "Find", func() (int, error) {
		if err := s.authorize(ctx, OpRead, opts.TypeName); err != nil {
			return 0, err
		}
		var err error
		out, err = s.engine.Find(ctx, search, props, opts)
		return len(out), err
	})
	return out, err
}

// FindByProperties returns elements satisfying criteria.
func (s *Store) FindByProperties(ctx context.Context, criteria property.Search, opts model.Options) ([]*model.Element, error) {
	var out []*model.Element
	err := s.observe(ctx, "FindByProperties", func() (int, error) {
		if err := s.authorize(ctx, OpRead, opts.TypeName); err != nil {
			return 0, err
		}
		var err error
		out, err = s.engine.FindByProperties(ctx, criteria, opts)
		return len(out), err
	})
	return out, err
}

// GetRelatedElements returns the elements one relationship away from guid.
func (s *Store) GetRelatedElements(ctx context.Context, guid string, dir model.Direction, relType, resultType string, opts model.Options) ([]*model.Element, error) {
	return s.Traverse(ctx, guid, query.Traversal{Direction: dir, RelationshipType: relType, ResultType: resultType, Hops: 1}, opts)
}

// Traverse returns the elements exactly t.Hops relationships away from guid.
func (s *Store) Traverse(ctx context.Context, guid string, t query.Traversal, opts model.Options) ([]*model.Element, error) {
	var out []*model.Element
	err := s.observe(ctx, "GetRelatedElements", func() (int, error) {
		if err := s.authorize(ctx, OpRead, t.ResultType); err != nil {
			return 0, err
		}
		var err error
		out, err = s.engine.Related(ctx, guid, t, opts)
		return len(out), err
	})
	return out, err
}

// GetRelatedElement returns the single element one hop from guid, or nil.
func (s *Store) GetRelatedElement(ctx context.Context, guid string, t query.Traversal, opts model.Options) (*model.Element, error) {
	var out *model.Element
	err := s.observe(ctx, "GetRelatedElement", func() (int, error) {
		if err := s.authorize(ctx, OpRead, t.ResultType); err != nil {
			return 0, err
		}
		var err error
		out, err = s.engine.RelatedOne(ctx, guid, t, opts)
		if out == nil {
			return 0, err
		}
		return 1, err
	})
	return out, err
}

// Close releases the journal and the KV engine.
func (s *Store) Close() error {
	var errs []error
	if c, ok := s.journal.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.kv.Close())
	return errors.Join(errs...)
}
