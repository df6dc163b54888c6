package element

import (
	"context"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/classification"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// Classify attaches a new classification to an element. Attaching a type
// the element already carries is an InvalidParameter error; use Reclassify.
func (s *Store) Classify(ctx context.Context, guid, typeName string, props property.Bag) error {
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		current, err := s.liveTx(tx, guid)
		if err != nil {
			return err
		}
		if err := s.checkClassification(typeName, current.TypeName, props); err != nil {
			return err
		}
		if _, ok := current.Classifications[typeName]; ok {
			return apperror.InvalidParameter(apperror.CodeClassificationExists,
				"element %s is already classified as %s", guid, typeName)
		}
		now := s.cfg.Clock()
		user := model.UserFrom(ctx)
		c := &model.Classification{
			ElementGUID: guid,
			TypeName:    typeName,
			Properties:  props.Clone(),
			CreatedBy:   user,
			CreateTime:  now,
			UpdatedBy:   user,
			UpdateTime:  now,
		}
		if err := classification.PutTx(tx, c); err != nil {
			return err
		}
		updated := current.Clone()
		if updated.Classifications == nil {
			updated.Classifications = make(map[string]*model.Classification)
		}
		updated.Classifications[typeName] = c
		s.touch(ctx, updated)
		return s.writeTx(tx, current, updated)
	})
	return apperror.Wrap(err, "classify %s as %s", guid, typeName)
}

// Reclassify changes the properties of an existing classification.
func (s *Store) Reclassify(ctx context.Context, guid, typeName string, props property.Bag, mode model.UpdateMode) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		current, err := s.liveTx(tx, guid)
		if err != nil {
			return err
		}
		if _, err := s.types.Lookup(typeName, typedef.CategoryClassification); err != nil {
			return err
		}
		existing, ok := current.Classifications[typeName]
		if !ok {
			return apperror.InvalidParameter(apperror.CodeClassificationNotFound,
				"element %s is not classified as %s", guid, typeName)
		}
		next := mode.Apply(existing.Properties, props)
		if next.Equal(existing.Properties) {
			return nil
		}
		if err := s.types.ValidateProperties(typeName, next, true); err != nil {
			return err
		}
		c := existing.Clone()
		c.Properties = next
		c.UpdatedBy = model.UserFrom(ctx)
		c.UpdateTime = s.cfg.Clock()
		if err := classification.PutTx(tx, c); err != nil {
			return err
		}
		updated := current.Clone()
		updated.Classifications[typeName] = c
		s.touch(ctx, updated)
		return s.writeTx(tx, current, updated)
	})
	return apperror.Wrap(err, "reclassify %s as %s", guid, typeName)
}

// Declassify removes a classification and reports whether the element
// carried it. Removing an absent classification is a no-op.
func (s *Store) Declassify(ctx context.Context, guid, typeName string) (bool, error) {
	if _, err := s.types.Lookup(typeName, typedef.CategoryClassification); err != nil {
		return false, err
	}
	removed := false
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		removed = false
		current, err := s.liveTx(tx, guid)
		if err != nil {
			return err
		}
		if removed, err = classification.DeleteTx(tx, guid, typeName); err != nil || !removed {
			return err
		}
		updated := current.Clone()
		delete(updated.Classifications, typeName)
		s.touch(ctx, updated)
		return s.writeTx(tx, current, updated)
	})
	if err != nil {
		return false, apperror.Wrap(err, "declassify %s from %s", typeName, guid)
	}
	return removed, nil
}

// Classified lists the visible elements carrying a classification type.
func (s *Store) Classified(ctx context.Context, typeName string, opts model.Options) ([]*model.Element, error) {
	if _, err := s.types.Lookup(typeName, typedef.CategoryClassification); err != nil {
		return nil, err
	}
	opts, err := opts.Normalize(s.cfg.MaxPageSize)
	if err != nil {
		return nil, err
	}
	var out []*model.Element
	err = s.kv.View(ctx, func(tx storage.Tx) error {
		guids, err := classification.ElementsTx(tx, typeName)
		if err != nil {
			return err
		}
		out, err = s.readAllTx(tx, guids, opts)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(err, "elements classified as %s", typeName)
	}
	return model.Paginate(out, opts), nil
}
