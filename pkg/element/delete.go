package element

import (
	"context"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/classification"
	"github.com/nainya/anchorstore/pkg/history"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/relationship"
	"github.com/nainya/anchorstore/pkg/storage"
)

// DeleteResult reports what a single-element delete removed.
type DeleteResult struct {
	Removed       bool
	Relationships int
}

// DeleteOneTx deletes one element together with every relationship that
// touches it. It refuses while other elements are still anchored to it so
// an anchor never disappears before its dependants. A missing element, or
// a soft delete of an already soft-deleted one, removes nothing.
func (s *Store) DeleteOneTx(tx storage.Tx, guid string, soft bool, user string) (DeleteResult, error) {
	var res DeleteResult
	current, err := loadTx(tx, guid)
	if err != nil || current == nil {
		return res, err
	}
	if soft && current.Status == model.StatusDeleted {
		return res, nil
	}

	dependants, err := AnchoredTx(tx, guid)
	if err != nil {
		return res, err
	}
	for _, d := range dependants {
		if soft {
			child, err := getRecordTx(tx, d)
			if err != nil {
				return res, err
			}
			if child == nil || child.Status == model.StatusDeleted {
				continue
			}
		}
		return res, apperror.PropertyServer(nil, apperror.CodeDependantsRemain,
			"element %s still anchors %s", guid, d).WithDetails("dependant", d)
	}

	rels, err := relationship.ListTx(tx, guid, "", model.DirectionAny)
	if err != nil {
		return res, err
	}
	now := s.cfg.Clock()
	for _, r := range rels {
		if !soft {
			if err := relationship.DeleteTx(tx, r); err != nil {
				return res, err
			}
			res.Relationships++
			continue
		}
		if r.Status == model.StatusDeleted {
			continue
		}
		updated := r.Clone()
		updated.Status = model.StatusDeleted
		updated.Version++
		updated.UpdatedBy = user
		updated.UpdateTime = now
		if err := relationship.PutTx(tx, r, updated); err != nil {
			return res, err
		}
		res.Relationships++
	}

	if soft {
		updated := current.Clone()
		updated.Status = model.StatusDeleted
		updated.Version++
		updated.UpdatedBy = user
		updated.UpdateTime = now
		if err := s.writeTx(tx, current, updated); err != nil {
			return res, err
		}
		res.Removed = true
		return res, nil
	}

	if _, err := classification.DeleteAllTx(tx, guid); err != nil {
		return res, err
	}
	if err := history.PurgeTx(tx, guid); err != nil {
		return res, err
	}
	if err := tx.Delete(recordKey(guid)); err != nil {
		return res, err
	}
	if err := s.indexes.Apply(tx, current, nil); err != nil {
		return res, err
	}
	res.Removed = true
	return res, nil
}

// DeleteOne runs DeleteOneTx in its own transaction.
func (s *Store) DeleteOne(ctx context.Context, guid string, soft bool) (DeleteResult, error) {
	var res DeleteResult
	err := s.kv.Update(ctx, func(tx storage.Tx) error {
		var err error
		res, err = s.DeleteOneTx(tx, guid, soft, model.UserFrom(ctx))
		return err
	})
	if err != nil {
		return DeleteResult{}, apperror.Wrap(err, "delete element %s", guid)
	}
	return res, nil
}
