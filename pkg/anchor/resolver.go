// ABOUTME: Anchor resolver: ownership lookups and transitive cascade deletes
// ABOUTME: Anchored sets are walked with an explicit worklist and visited set

package anchor

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/rs/zerolog"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/element"
	"github.com/nainya/anchorstore/pkg/journal"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/storage"
)

// KindCascadeDelete is the journal kind of cascade deletes.
const KindCascadeDelete = "cascade-delete"

// DefaultMaxRounds bounds how often a cascade re-resolves its anchored set
// when dependants appear while it runs.
const DefaultMaxRounds = 5

// Config carries the injectable collaborators of a Resolver.
type Config struct {
	Journal   journal.Intents
	Logger    zerolog.Logger
	MaxRounds int
}

// Resolver answers ownership questions and performs cascade deletes.
type Resolver struct {
	elements  *element.Store
	kv        storage.KV
	journal   journal.Intents
	logger    zerolog.Logger
	maxRounds int
}

// NewResolver creates a resolver over the element store.
func NewResolver(elements *element.Store, cfg Config) *Resolver {
	if cfg.Journal == nil {
		cfg.Journal = journal.Discard{}
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	return &Resolver{
		elements:  elements,
		kv:        elements.KV(),
		journal:   cfg.Journal,
		logger:    cfg.Logger,
		maxRounds: cfg.MaxRounds,
	}
}

// CollectTx returns root followed by every element anchored to it directly
// or transitively, parents before children. Meeting an element twice means
// the anchor chain loops and fails with PropertyServer.
func CollectTx(tx storage.Tx, root string) ([]string, error) {
	visited := map[string]bool{root: true}
	order := []string{root}
	worklist := []string{root}

	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]

		children, err := element.AnchoredTx(tx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child] {
				return nil, apperror.PropertyServer(nil, apperror.CodeAnchorCycle,
					"element %s is reached twice while resolving the anchored set of %s", child, root).
					WithDetails("guid", child)
			}
			visited[child] = true
			order = append(order, child)
			worklist = append(worklist, child)
		}
	}
	return order, nil
}

// AnchoredSet returns guid and everything it anchors, parents first.
func (r *Resolver) AnchoredSet(ctx context.Context, guid string) ([]string, error) {
	var set []string
	err := r.kv.View(ctx, func(tx storage.Tx) error {
		e, err := r.elements.GetTx(tx, guid)
		if err != nil {
			return err
		}
		if e == nil {
			return apperror.InvalidParameter(apperror.CodeElementNotFound, "element %s does not exist", guid)
		}
		set, err = CollectTx(tx, guid)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(err, "anchored set of %s", guid)
	}
	return set, nil
}

// AnchorTx walks the anchor chain of guid up to the element that is its
// own anchor.
func AnchorTx(tx storage.Tx, elements *element.Store, guid string) (string, error) {
	e, err := elements.GetTx(tx, guid)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", apperror.InvalidParameter(apperror.CodeElementNotFound, "element %s does not exist", guid)
	}
	visited := map[string]bool{guid: true}
	for !e.IsOwnAnchor() {
		next := e.AnchorGUID
		if visited[next] {
			return "", apperror.PropertyServer(nil, apperror.CodeAnchorCycle, "anchor chain of %s loops at %s", guid, next)
		}
		visited[next] = true
		owner, err := elements.GetTx(tx, next)
		if err != nil {
			return "", err
		}
		if owner == nil {
			return "", apperror.PropertyServer(nil, apperror.CodeDanglingAnchor,
				"element %s is anchored to missing element %s", e.GUID, next)
		}
		e = owner
	}
	return e.GUID, nil
}

// Anchor returns the root element that owns guid; an element that is its
// own anchor returns itself.
func (r *Resolver) Anchor(ctx context.Context, guid string) (string, error) {
	var root string
	err := r.kv.View(ctx, func(tx storage.Tx) error {
		var err error
		root, err = AnchorTx(tx, r.elements, guid)
		return err
	})
	if err != nil {
		return "", apperror.Wrap(err, "anchor of %s", guid)
	}
	return root, nil
}

type cascadeIntent struct {
	Root string `json:"root"`
	Soft bool   `json:"soft,omitempty"`
}

// Delete removes guid, everything anchored to it and every relationship
// touching any of those elements. The result always reports the work done,
// also when an error stops the cascade part way.
func (r *Resolver) Delete(ctx context.Context, guid string, opts model.DeleteOptions) (model.CascadeResult, error) {
	result := model.CascadeResult{RootGUID: guid}
	if guid == "" {
		return result, apperror.InvalidParameter(apperror.CodeElementNotFound, "element GUID is empty")
	}

	exists := false
	err := r.kv.View(ctx, func(tx storage.Tx) error {
		e, err := r.elements.GetTx(tx, guid)
		exists = e != nil && !(opts.Soft && e.Status == model.StatusDeleted)
		return err
	})
	if err != nil {
		return result, apperror.Wrap(err, "read element %s", guid)
	}
	if !exists {
		if opts.BestEffort {
			return result, nil
		}
		return result, apperror.InvalidParameter(apperror.CodeElementNotFound, "element %s does not exist", guid)
	}

	payload, _ := json.Marshal(cascadeIntent{Root: guid, Soft: opts.Soft})
	opID, err := r.journal.Begin(KindCascadeDelete, payload)
	if err != nil {
		return result, apperror.PropertyServer(err, apperror.CodeRepository, "journal cascade of %s", guid)
	}
	if err := r.cascade(ctx, opID, guid, opts.Soft, &result); err != nil {
		return result, err
	}
	if err := r.journal.Commit(opID); err != nil {
		return result, apperror.PropertyServer(err, apperror.CodeRepository, "commit journal of cascade %s", guid)
	}
	return result, nil
}

// cascade deletes leaf first, one element per transaction, and
// re-resolves the anchored set when dependants appeared meanwhile.
func (r *Resolver) cascade(ctx context.Context, opID uint64, root string, soft bool, result *model.CascadeResult) error {
	user := model.UserFrom(ctx)
	for round := 1; round <= r.maxRounds; round++ {
		var set []string
		err := r.kv.View(ctx, func(tx storage.Tx) error {
			var err error
			set, err = CollectTx(tx, root)
			return err
		})
		if err != nil {
			return r.incomplete(err, result, []string{root})
		}

		r.logger.Debug().
			Str("root", root).
			Int("round", round).
			Int("members", len(set)).
			Msg("Cascade delete resolved anchored set")

		slices.Reverse(set)
		retry := false
		for i, guid := range set {
			if err := ctx.Err(); err != nil {
				return r.incomplete(err, result, set[i:])
			}
			var res element.DeleteResult
			err := r.kv.Update(ctx, func(tx storage.Tx) error {
				var err error
				res, err = r.elements.DeleteOneTx(tx, guid, soft, user)
				return err
			})
			if apperror.CodeOf(err) == apperror.CodeDependantsRemain {
				retry = true
				break
			}
			if err != nil {
				return r.incomplete(err, result, set[i:])
			}
			if res.Removed {
				result.ElementsDeleted++
			}
			result.RelationshipsDeleted += res.Relationships
			if err := r.journal.Step(opID, []byte(guid)); err != nil {
				r.logger.Warn().Err(err).Str("guid", guid).Msg("Failed to journal cascade step")
			}
		}
		if !retry {
			return nil
		}
	}
	return r.incomplete(apperror.PropertyServer(nil, apperror.CodeDependantsRemain,
		"new dependants kept appearing under %s", root), result, []string{root})
}

func (r *Resolver) incomplete(err error, result *model.CascadeResult, remaining []string) error {
	result.Remaining = slices.Clone(remaining)
	r.logger.Error().
		Err(err).
		Str("root", result.RootGUID).
		Int("elements_deleted", result.ElementsDeleted).
		Int("relationships_deleted", result.RelationshipsDeleted).
		Int("remaining", len(remaining)).
		Msg("Cascade delete incomplete")
	return apperror.PropertyServer(err, apperror.CodeCascadeIncomplete,
		"cascade delete of %s stopped after %d elements", result.RootGUID, result.ElementsDeleted).
		WithDetails("elementsDeleted", result.ElementsDeleted).
		WithDetails("relationshipsDeleted", result.RelationshipsDeleted)
}

// Resume finishes cascade deletes that the journal shows were begun but
// never committed. Elements already gone count as deleted.
func (r *Resolver) Resume(ctx context.Context) ([]model.CascadeResult, error) {
	pending, err := r.journal.Pending()
	if err != nil {
		return nil, apperror.PropertyServer(err, apperror.CodeRepository, "read journal")
	}
	var results []model.CascadeResult
	for _, op := range pending {
		if op.Kind != KindCascadeDelete {
			continue
		}
		var intent cascadeIntent
		if err := json.Unmarshal(op.Payload, &intent); err != nil {
			return results, apperror.PropertyServer(err, apperror.CodeRepository, "decode journal operation %d", op.OpID)
		}
		result := model.CascadeResult{RootGUID: intent.Root}
		r.logger.Info().
			Uint64("op_id", op.OpID).
			Str("root", intent.Root).
			Int("completed_steps", len(op.Steps)).
			Msg("Resuming cascade delete")
		if err := r.cascade(ctx, op.OpID, intent.Root, intent.Soft, &result); err != nil {
			return append(results, result), err
		}
		if err := r.journal.Commit(op.OpID); err != nil {
			return append(results, result), apperror.PropertyServer(err, apperror.CodeRepository, "commit journal operation %d", op.OpID)
		}
		results = append(results, result)
	}
	return results, nil
}
