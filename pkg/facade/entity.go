// ABOUTME: Typed entity facade: one handler for every entity type, driven by a descriptor
// ABOUTME: Delegates to the metastore API with the descriptor's names and relationships

package facade

import (
	"context"
	"time"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/element"
	"github.com/nainya/anchorstore/pkg/metastore"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/query"
	"github.com/nainya/anchorstore/pkg/template"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// Entity handles elements of one type.
type Entity struct {
	store *metastore.Store
	d     Descriptor
}

// New creates a facade for d. The type and parent relationship must be
// registered.
func New(store *metastore.Store, d Descriptor) (*Entity, error) {
	types := store.Types()
	if _, err := types.Lookup(d.TypeName, typedef.CategoryEntity); err != nil {
		return nil, err
	}
	if d.ParentRelationship != "" {
		if _, err := types.Lookup(d.ParentRelationship, typedef.CategoryRelationship); err != nil {
			return nil, err
		}
	}
	return &Entity{store: store, d: d}, nil
}

// For creates the facade for a built-in type.
func For(store *metastore.Store, typeName string) (*Entity, error) {
	d, ok := Builtin(typeName)
	if !ok {
		return nil, apperror.InvalidParameter(apperror.CodeUnknownType, "no handler for type %s", typeName)
	}
	return New(store, d)
}

// Descriptor returns the descriptor driving this facade.
func (e *Entity) Descriptor() Descriptor {
	return e.d
}

func (e *Entity) parent(parentGUID string, props property.Bag) model.AnchorSpec {
	if parentGUID == "" {
		return model.AnchorSpec{}
	}
	return model.AnchorSpec{
		ParentGUID:                   parentGUID,
		ParentRelationshipType:       e.d.ParentRelationship,
		ParentAtEnd1:                 e.d.ParentAtEnd1,
		ParentRelationshipProperties: props,
	}
}

func (e *Entity) typed(opts model.Options) model.Options {
	if opts.TypeName == "" || !e.store.Types().IsSubtypeOf(opts.TypeName, e.d.TypeName) {
		opts.TypeName = e.d.TypeName
	}
	return opts
}

// NewRequest describes an element created through the facade.
type NewRequest struct {
	Properties      property.Bag
	Classifications map[string]property.Bag
	Status          model.Status
	EffectiveFrom   *time.Time
	EffectiveTo     *time.Time

	// ParentGUID attaches and anchors the element to a parent through the
	// descriptor's parent relationship.
	ParentGUID       string
	ParentProperties property.Bag
}

// Create creates an element of the facade's type.
func (e *Entity) Create(ctx context.Context, req NewRequest) (string, error) {
	if req.ParentGUID != "" && e.d.ParentRelationship == "" {
		return "", apperror.InvalidParameter(apperror.CodeInvalidOption, "%s elements have no parent", e.d.TypeName)
	}
	return e.store.CreateElement(ctx, element.NewElement{
		TypeName:        e.d.TypeName,
		Properties:      req.Properties,
		Classifications: req.Classifications,
		Status:          req.Status,
		EffectiveFrom:   req.EffectiveFrom,
		EffectiveTo:     req.EffectiveTo,
		Anchor:          e.parent(req.ParentGUID, req.ParentProperties),
	})
}

// CreateFromTemplate clones a template of the facade's type.
func (e *Entity) CreateFromTemplate(ctx context.Context, templateGUID string, replacement property.Bag, placeholders map[string]string, parentGUID string) (string, error) {
	res, err := e.store.CreateFromTemplate(ctx, template.Request{
		TemplateGUID:          templateGUID,
		ExpectedType:          e.d.templateType(),
		ReplacementProperties: replacement,
		Placeholders:          placeholders,
		Parent:                e.parent(parentGUID, nil),
	})
	return res.GUID, err
}

// Update changes the properties of an element of the facade's type.
func (e *Entity) Update(ctx context.Context, guid string, props property.Bag, mode model.UpdateMode) (bool, error) {
	return e.store.UpdateTyped(ctx, guid, e.d.TypeName, props, mode)
}

// Delete removes an element of the facade's type with everything anchored
// to it.
func (e *Entity) Delete(ctx context.Context, guid string, opts model.DeleteOptions) (model.CascadeResult, error) {
	el, err := e.store.GetByGUID(ctx, guid, model.Options{IncludeDeleted: true})
	if err != nil {
		return model.CascadeResult{RootGUID: guid}, err
	}
	if el != nil && !e.store.Types().IsSubtypeOf(el.TypeName, e.d.TypeName) {
		return model.CascadeResult{RootGUID: guid}, apperror.InvalidParameter(apperror.CodeTypeMismatch,
			"element %s is a %s, not a %s", guid, el.TypeName, e.d.TypeName)
	}
	return e.store.DeleteElement(ctx, guid, opts)
}

// Link relates two elements.
func (e *Entity) Link(ctx context.Context, relType, end1, end2 string, props property.Bag) (string, error) {
	return e.store.LinkElements(ctx, relType, end1, end2, props)
}

// Detach removes relationships of relType between two elements.
func (e *Entity) Detach(ctx context.Context, relType, end1, end2 string) (int, error) {
	return e.store.DetachElements(ctx, relType, end1, end2)
}

// Get returns the element, or nil when it is missing or of another type.
func (e *Entity) Get(ctx context.Context, guid string, opts model.Options) (*model.Element, error) {
	return e.store.GetByGUID(ctx, guid, e.typed(opts))
}

// GetByName returns elements of the type whose name properties equal name.
func (e *Entity) GetByName(ctx context.Context, name string, opts model.Options) ([]*model.Element, error) {
	return e.store.GetByName(ctx, name, e.d.NameProperties, e.typed(opts))
}

// Find returns elements of the type matching the regular expression.
func (e *Entity) Find(ctx context.Context, search string, opts model.Options) ([]*model.Element, error) {
	return e.store.Find(ctx, search, e.typed(opts), e.d.SearchProperties...)
}

// Related returns elements one relType hop from guid.
func (e *Entity) Related(ctx context.Context, guid, relType string, dir model.Direction, resultType string, opts model.Options) ([]*model.Element, error) {
	return e.store.GetRelatedElements(ctx, guid, dir, relType, resultType, opts)
}

// Children returns the elements attached to guid through the parent
// relationship.
func (e *Entity) Children(ctx context.Context, guid string, opts model.Options) ([]*model.Element, error) {
	if e.d.ParentRelationship == "" {
		return []*model.Element{}, nil
	}
	dir := model.DirectionFromEnd2
	if e.d.ParentAtEnd1 {
		dir = model.DirectionFromEnd1
	}
	return e.store.GetRelatedElements(ctx, guid, dir, e.d.ParentRelationship, e.d.TypeName, opts)
}

// Owner returns the parent of guid through the parent relationship, or nil.
func (e *Entity) Owner(ctx context.Context, guid string, opts model.Options) (*model.Element, error) {
	if e.d.ParentRelationship == "" {
		return nil, nil
	}
	t := query.NewTraversal(e.d.ParentRelationship).FromEnd1()
	if e.d.ParentAtEnd1 {
		t = query.NewTraversal(e.d.ParentRelationship).FromEnd2()
	}
	return e.store.GetRelatedElement(ctx, guid, t.Build(), opts)
}

// Reassign replaces every relType relationship between guid and other
// elements with one to target. guidAtEnd1 says which end guid occupies.
func (e *Entity) Reassign(ctx context.Context, guid, relType, target string, guidAtEnd1 bool, props property.Bag) (string, error) {
	dir := model.DirectionFromEnd2
	if guidAtEnd1 {
		dir = model.DirectionFromEnd1
	}
	current, err := e.store.GetRelatedElements(ctx, guid, dir, relType, "", model.Options{})
	if err != nil {
		return "", err
	}
	for _, other := range current {
		if other.GUID == target {
			continue
		}
		if _, err := e.store.DetachElements(ctx, relType, guid, other.GUID); err != nil {
			return "", err
		}
	}

	end1, end2 := target, guid
	if guidAtEnd1 {
		end1, end2 = guid, target
	}
	existing, err := e.store.GetRelationshipsBetween(ctx, end1, end2, relType, model.Options{})
	if err != nil {
		return "", err
	}
	for _, r := range existing {
		if r.End1GUID == end1 {
			return r.GUID, nil
		}
	}
	return e.store.LinkElements(ctx, relType, end1, end2, props)
}
