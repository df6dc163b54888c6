// ABOUTME: Template cloner: copies an element and its anchored sub-graph
// ABOUTME: Placeholders are substituted everywhere and the copy is written atomically

package template

import (
	"context"
	"slices"

	"github.com/rs/zerolog"

	"github.com/nainya/anchorstore/pkg/anchor"
	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/element"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/relationship"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// Request describes a clone.
type Request struct {
	TemplateGUID string
	ExpectedType string

	// ReplacementProperties override the template values on the new root only.
	ReplacementProperties property.Bag

	// Placeholders supply the values of {{token}} markers.
	Placeholders    map[string]string
	AllowUnresolved bool

	Parent model.AnchorSpec
	Status model.Status
}

// Result describes a completed clone.
type Result struct {
	GUID          string
	Elements      int
	Relationships int

	// Mapping maps every template member GUID to its copy.
	Mapping map[string]string
}

// Cloner creates elements from templates
type Cloner struct {
	elements *element.Store
	rels     *relationship.Store
	kv       storage.KV
	logger   zerolog.Logger

	// beforeWrite runs between reading the template and writing the copy.
	beforeWrite func()
}

// NewCloner creates a cloner over the element store.
func NewCloner(elements *element.Store, logger zerolog.Logger) *Cloner {
	return &Cloner{
		elements: elements,
		rels:     elements.Relationships(),
		kv:       elements.KV(),
		logger:   logger,
	}
}

type snapshot struct {
	members []*model.Element
	rels    []*model.Relationship
}

func (c *Cloner) read(ctx context.Context, req Request) (*snapshot, error) {
	snap := &snapshot{}
	err := c.kv.View(ctx, func(tx storage.Tx) error {
		root, err := c.elements.GetTx(tx, req.TemplateGUID)
		if err != nil {
			return err
		}
		if root == nil || root.Status == model.StatusDeleted {
			return apperror.InvalidParameter(apperror.CodeElementNotFound, "template %s does not exist", req.TemplateGUID)
		}
		if req.ExpectedType != "" && !c.elements.Types().IsSubtypeOf(root.TypeName, req.ExpectedType) {
			return apperror.InvalidParameter(apperror.CodeTypeMismatch,
				"template %s is a %s, not a %s", req.TemplateGUID, root.TypeName, req.ExpectedType)
		}

		guids, err := anchor.CollectTx(tx, req.TemplateGUID)
		if err != nil {
			return err
		}
		inSet := make(map[string]bool, len(guids))
		for _, g := range guids {
			e, err := c.elements.GetTx(tx, g)
			if err != nil {
				return err
			}
			// Soft-deleted members are not part of the template
			if e == nil || e.Status == model.StatusDeleted {
				continue
			}
			inSet[g] = true
			snap.members = append(snap.members, e)
		}

		seen := make(map[string]bool)
		for _, e := range snap.members {
			rels, err := relationship.ListTx(tx, e.GUID, "", model.DirectionAny)
			if err != nil {
				return err
			}
			for _, r := range rels {
				if seen[r.GUID] || r.Status == model.StatusDeleted {
					continue
				}
				if inSet[r.End1GUID] && inSet[r.End2GUID] {
					seen[r.GUID] = true
					snap.rels = append(snap.rels, r)
				}
			}
		}
		return nil
	})
	return snap, err
}

// Clone copies the template root and everything anchored to it. Nothing is
// written unless the whole copy can be written.
func (c *Cloner) Clone(ctx context.Context, req Request) (Result, error) {
	if req.TemplateGUID == "" {
		return Result{}, apperror.InvalidParameter(apperror.CodeElementNotFound, "template GUID is empty")
	}
	status := req.Status
	switch status {
	case "":
		status = model.StatusActive
	case model.StatusActive, model.StatusDraft:
	default:
		return Result{}, apperror.InvalidParameter(apperror.CodeInvalidOption, "cannot clone into status %s", status)
	}

	snap, err := c.read(ctx, req)
	if err != nil {
		return Result{}, apperror.Wrap(err, "read template %s", req.TemplateGUID)
	}

	mapping := make(map[string]string, len(snap.members))
	for _, e := range snap.members {
		mapping[e.GUID] = c.elements.NewGUID()
	}

	user := model.UserFrom(ctx)
	now := c.elements.Now()
	var unresolved []string
	substitute := func(b property.Bag) property.Bag {
		out, missing := b.Substitute(req.Placeholders)
		unresolved = append(unresolved, missing...)
		return out
	}

	copies := make([]*model.Element, 0, len(snap.members))
	for _, src := range snap.members {
		dst := &model.Element{
			GUID:          mapping[src.GUID],
			TypeName:      src.TypeName,
			Properties:    substitute(src.Properties),
			Status:        status,
			Version:       1,
			CreatedBy:     user,
			CreateTime:    now,
			UpdatedBy:     user,
			UpdateTime:    now,
			EffectiveFrom: src.EffectiveFrom,
			EffectiveTo:   src.EffectiveTo,
		}
		if dst.Properties == nil {
			dst.Properties = property.Bag{}
		}
		if src.GUID == req.TemplateGUID {
			for name, v := range substitute(req.ReplacementProperties) {
				dst.Properties[name] = v
			}
			dst.AnchorGUID = dst.GUID
			if req.Parent.HasParent() && !req.Parent.OwnAnchor {
				dst.AnchorGUID = req.Parent.ParentGUID
			}
		} else {
			dst.AnchorGUID = mapping[src.AnchorGUID]
		}
		for name, cls := range src.Classifications {
			if name == typedef.TemplateClassifier {
				continue
			}
			if dst.Classifications == nil {
				dst.Classifications = make(map[string]*model.Classification)
			}
			dst.Classifications[name] = &model.Classification{
				ElementGUID: dst.GUID,
				TypeName:    name,
				Properties:  substitute(cls.Properties),
				CreatedBy:   user,
				CreateTime:  now,
				UpdatedBy:   user,
				UpdateTime:  now,
			}
		}
		copies = append(copies, dst)
	}

	type relCopy struct {
		typeName, end1, end2 string
		props                property.Bag
	}
	relCopies := make([]relCopy, 0, len(snap.rels))
	for _, r := range snap.rels {
		relCopies = append(relCopies, relCopy{r.TypeName, mapping[r.End1GUID], mapping[r.End2GUID], substitute(r.Properties)})
	}

	if len(unresolved) > 0 && !req.AllowUnresolved {
		slices.Sort(unresolved)
		unresolved = slices.Compact(unresolved)
		return Result{}, apperror.InvalidParameter(apperror.CodeUnresolvedPlaceholder,
			"template %s needs values for %v", req.TemplateGUID, unresolved).
			WithDetails("placeholders", unresolved)
	}

	if c.beforeWrite != nil {
		c.beforeWrite()
	}

	root := mapping[req.TemplateGUID]
	err = c.kv.Update(ctx, func(tx storage.Tx) error {
		for _, src := range snap.members {
			current, err := c.elements.GetTx(tx, src.GUID)
			if err != nil {
				return err
			}
			if current == nil || current.Status == model.StatusDeleted || current.Version != src.Version {
				return apperror.PropertyServer(nil, apperror.CodeTemplateChanged,
					"template member %s changed while cloning %s", src.GUID, req.TemplateGUID)
			}
		}
		if req.Parent.HasParent() {
			parent, err := c.elements.GetTx(tx, req.Parent.ParentGUID)
			if err != nil {
				return err
			}
			if parent == nil || parent.Status == model.StatusDeleted {
				return apperror.InvalidParameter(apperror.CodeElementNotFound, "parent %s does not exist", req.Parent.ParentGUID)
			}
		}

		// Members are in anchored-set order so every anchor is written first
		for _, e := range copies {
			if err := c.elements.InsertTx(tx, e); err != nil {
				return err
			}
		}
		for _, r := range relCopies {
			if _, err := c.rels.LinkTx(tx, r.typeName, r.end1, r.end2, r.props, user); err != nil {
				return err
			}
		}
		if req.Parent.HasParent() && req.Parent.ParentRelationshipType != "" {
			end1, end2 := req.Parent.ParentEnds(root)
			if _, err := c.rels.LinkTx(tx, req.Parent.ParentRelationshipType, end1, end2, req.Parent.ParentRelationshipProperties, user); err != nil {
				return err
			}
		}
		_, err := c.rels.LinkTx(tx, typedef.SourcedFrom, root, req.TemplateGUID, nil, user)
		return err
	})
	if err != nil {
		return Result{}, apperror.Wrap(err, "clone template %s", req.TemplateGUID)
	}

	c.logger.Debug().
		Str("template", req.TemplateGUID).
		Str("guid", root).
		Int("elements", len(copies)).
		Int("relationships", len(relCopies)).
		Msg("Cloned template")

	return Result{GUID: root, Elements: len(copies), Relationships: len(relCopies), Mapping: mapping}, nil
}
