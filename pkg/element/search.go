// ABOUTME: Name and full-text searches over elements
// ABOUTME: Exact names use the value index, regex searches scan the type index

package element

import (
	"context"
	"slices"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// DefaultNameProperties are matched by GetByName when the caller names none.
var DefaultNameProperties = []string{typedef.QualifiedName, "displayName", "name", "identifier"}

// MatchAll is the search string that matches every element.
const MatchAll = "*"

func (s *Store) readAllTx(tx storage.Tx, guids []string, opts model.Options) ([]*model.Element, error) {
	out := make([]*model.Element, 0, len(guids))
	for _, g := range guids {
		e, err := s.ReadTx(tx, g, opts)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// candidatesTx lists the GUIDs of elements of typeName or its subtypes, or
// of every element when typeName is empty, sorted by GUID.
func (s *Store) candidatesTx(tx storage.Tx, typeName string) ([]string, error) {
	if typeName == "" {
		return AllTx(tx)
	}
	var guids []string
	for _, t := range s.types.Subtypes(typeName) {
		found, err := TypeTx(tx, t)
		if err != nil {
			return nil, err
		}
		guids = append(guids, found...)
	}
	slices.Sort(guids)
	return guids, nil
}

func (s *Store) checkTypeFilter(opts model.Options) error {
	if opts.TypeName == "" {
		return nil
	}
	_, err := s.types.Lookup(opts.TypeName, typedef.CategoryEntity)
	return err
}

// GetByName returns the elements where any of the named properties equals
// name exactly.
func (s *Store) GetByName(ctx context.Context, name string, props []string, opts model.Options) ([]*model.Element, error) {
	if name == "" {
		return nil, apperror.InvalidParameter(apperror.CodeInvalidSearch, "name is empty")
	}
	if len(props) == 0 {
		props = DefaultNameProperties
	}
	opts, err := opts.Normalize(s.cfg.MaxPageSize)
	if err != nil {
		return nil, err
	}
	if err := s.checkTypeFilter(opts); err != nil {
		return nil, err
	}
	matcher, err := property.AnyEqual(name, props...).Compile()
	if err != nil {
		return nil, apperror.InvalidParameter(apperror.CodeInvalidSearch, "%v", err)
	}

	var out []*model.Element
	err = s.kv.View(ctx, func(tx storage.Tx) error {
		seen := make(map[string]bool)
		var guids []string
		for _, p := range props {
			found, err := ValueTx(tx, p, name)
			if err != nil {
				return err
			}
			for _, g := range found {
				if !seen[g] {
					seen[g] = true
					guids = append(guids, g)
				}
			}
		}
		slices.Sort(guids)
		elements, err := s.readAllTx(tx, guids, opts)
		if err != nil {
			return err
		}
		// Historical versions may no longer hold the indexed value
		for _, e := range elements {
			if matcher.Match(e.Properties) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperror.Wrap(err, "get by name %q", name)
	}
	return model.Paginate(out, opts), nil
}

// Find returns the elements where any searchable property matches the
// regular expression. An empty string or "*" matches every element. When
// props is empty the searchable properties of the type filter are used.
func (s *Store) Find(ctx context.Context, search string, props []string, opts model.Options) ([]*model.Element, error) {
	var criteria property.Search
	if search != "" && search != MatchAll {
		if len(props) == 0 {
			root := opts.TypeName
			if root == "" {
				root = typedef.Referenceable
			}
			props = s.types.SearchableProperties(root)
		}
		criteria = property.AnyLike(search, props...)
	}
	return s.FindByProperties(ctx, criteria, opts)
}

// FindByProperties returns the elements whose properties satisfy criteria.
func (s *Store) FindByProperties(ctx context.Context, criteria property.Search, opts model.Options) ([]*model.Element, error) {
	opts, err := opts.Normalize(s.cfg.MaxPageSize)
	if err != nil {
		return nil, err
	}
	if err := s.checkTypeFilter(opts); err != nil {
		return nil, err
	}
	matcher, err := criteria.Compile()
	if err != nil {
		return nil, apperror.InvalidParameter(apperror.CodeInvalidSearch, "%v", err).WithInternal(err)
	}

	var out []*model.Element
	err = s.kv.View(ctx, func(tx storage.Tx) error {
		guids, err := s.candidatesTx(tx, opts.TypeName)
		if err != nil {
			return err
		}
		elements, err := s.readAllTx(tx, guids, opts)
		if err != nil {
			return err
		}
		for _, e := range elements {
			if matcher.Match(e.Properties) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperror.Wrap(err, "find")
	}
	return model.Paginate(out, opts), nil
}
