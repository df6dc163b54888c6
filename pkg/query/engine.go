// ABOUTME: Query engine: name and full-text search plus paged relationship traversal
// ABOUTME: Traversals accumulate every page before applying the caller's paging

package query

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
)

// Config holds engine settings.
type Config struct {
	// FetchSize is the page size used against the pager. It should equal the
	// repository's maximum page size.
	FetchSize   int
	MaxPageSize int
	Logger      zerolog.Logger
	Observer    Observer
}

// Engine provides the search and traversal operations shared by every
// entity type
type Engine struct {
	elements Elements
	pager    Pager
	cfg      Config
}

// NewEngine creates a query engine
func NewEngine(elements Elements, pager Pager, cfg Config) *Engine {
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = model.DefaultMaxPageSize
	}
	if cfg.FetchSize <= 0 {
		cfg.FetchSize = cfg.MaxPageSize
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Engine{elements: elements, pager: pager, cfg: cfg}
}

// GetByName returns elements where any of props equals name.
func (e *Engine) GetByName(ctx context.Context, name string, props []string, opts model.Options) ([]*model.Element, error) {
	return e.elements.GetByName(ctx, name, props, opts)
}

// Find returns elements whose searchable properties match the regular
// expression search.
func (e *Engine) Find(ctx context.Context, search string, props []string, opts model.Options) ([]*model.Element, error) {
	return e.elements.Find(ctx, search, props, opts)
}

// FindByProperties returns elements satisfying criteria.
func (e *Engine) FindByProperties(ctx context.Context, criteria property.Search, opts model.Options) ([]*model.Element, error) {
	return e.elements.FindByProperties(ctx, criteria, opts)
}

func (e *Engine) check(ctx context.Context, guid string, t Traversal, opts model.Options) (Traversal, model.Options, error) {
	opts, err := opts.Normalize(e.cfg.MaxPageSize)
	if err != nil {
		return t, opts, err
	}
	switch t.Direction {
	case "":
		t.Direction = model.DirectionAny
	case model.DirectionAny, model.DirectionFromEnd1, model.DirectionFromEnd2:
	default:
		return t, opts, apperror.InvalidParameter(apperror.CodeInvalidOption, "unknown direction %q", t.Direction)
	}
	if t.Hops < 0 {
		return t, opts, apperror.InvalidParameter(apperror.CodeInvalidOption, "hops must not be negative, got %d", t.Hops)
	}
	if t.Hops == 0 {
		t.Hops = 1
	}

	start, err := e.elements.Get(ctx, guid, model.Options{AsOfTime: opts.AsOfTime, IncludeDeleted: opts.IncludeDeleted})
	if err != nil {
		return t, opts, err
	}
	if start == nil {
		return t, opts, apperror.InvalidParameter(apperror.CodeElementNotFound, "element %s does not exist", guid)
	}
	return t, opts, nil
}

// Related returns the elements exactly t.Hops relationships away from guid.
// Each element appears once, at its shortest distance; the start element is
// never returned.
func (e *Engine) Related(ctx context.Context, guid string, t Traversal, opts model.Options) ([]*model.Element, error) {
	t, opts, err := e.check(ctx, guid, t, opts)
	if err != nil {
		return nil, err
	}

	frontier, err := e.frontier(ctx, guid, t, opts)
	if err != nil {
		return nil, err
	}

	readOpts := opts.Unpaged()
	readOpts.TypeName = t.ResultType
	out := make([]*model.Element, 0, len(frontier))
	for _, g := range frontier {
		el, err := e.elements.Get(ctx, g, readOpts)
		if err != nil {
			return nil, err
		}
		if el == nil {
			continue
		}
		out = append(out, el)
	}
	return model.Paginate(out, opts), nil
}

// RelatedOne returns the single element one hop from guid, or nil. Far ends
// that cannot be read are skipped and counted; more than one match is a
// repository inconsistency.
func (e *Engine) RelatedOne(ctx context.Context, guid string, t Traversal, opts model.Options) (*model.Element, error) {
	t.Hops = 1
	t, opts, err := e.check(ctx, guid, t, opts)
	if err != nil {
		return nil, err
	}

	rels, err := e.accumulate(ctx, guid, t.RelationshipType, t.Direction, opts)
	if err != nil {
		return nil, err
	}
	readOpts := opts.Unpaged()
	readOpts.TypeName = ""
	typeOpts := model.Options{TypeName: t.ResultType, EffectiveTime: opts.EffectiveTime, IncludeDeleted: opts.IncludeDeleted}
	candidates := make([]*model.Element, 0, len(rels))
	for _, r := range rels {
		far := t.Direction.Far(r, guid)
		if far == "" {
			continue
		}
		el, err := e.elements.Get(ctx, far, readOpts)
		if err != nil {
			return nil, err
		}
		if el != nil && t.ResultType != "" && !e.elements.Visible(el, typeOpts) {
			continue
		}
		candidates = append(candidates, el)
	}
	return e.AtMostOne(t.RelationshipType, candidates)
}

// AtMostOne returns the only non-nil element of items, or nil when there is
// none. Nil entries are skipped with a warning.
func (e *Engine) AtMostOne(query string, items []*model.Element) (*model.Element, error) {
	var found *model.Element
	for _, el := range items {
		if el == nil {
			e.cfg.Observer.NullSkipped(query)
			e.cfg.Logger.Warn().Str("query", query).Msg("Skipped null entry in single-result query")
			continue
		}
		if found != nil && found.GUID != el.GUID {
			return nil, apperror.PropertyServer(nil, apperror.CodeMultipleFound,
				"%s returned more than one element (%s, %s)", query, found.GUID, el.GUID).
				WithDetails("guids", []string{found.GUID, el.GUID})
		}
		found = el
	}
	return found, nil
}

// frontier walks t.Hops levels breadth first and returns the last level.
func (e *Engine) frontier(ctx context.Context, guid string, t Traversal, opts model.Options) ([]string, error) {
	visited := map[string]bool{guid: true}
	level := []string{guid}
	for hop := 0; hop < t.Hops && len(level) > 0; hop++ {
		var next []string
		for _, g := range level {
			rels, err := e.accumulate(ctx, g, t.RelationshipType, t.Direction, opts)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				far := t.Direction.Far(r, g)
				if far == "" || visited[far] {
					continue
				}
				visited[far] = true
				next = append(next, far)
			}
		}
		level = next
	}
	return level, nil
}

// accumulate reads every page of relationships of guid. The cursor advances
// by the fetch size so a concurrent insert or delete can shift items between
// pages; duplicates are dropped and missed items are accepted.
func (e *Engine) accumulate(ctx context.Context, guid, relType string, dir model.Direction, opts model.Options) ([]*model.Relationship, error) {
	pageOpts := opts.Unpaged()
	pageOpts.TypeName = ""

	var out []*model.Relationship
	seen := make(map[string]bool)
	for start := 0; ; start += e.cfg.FetchSize {
		if err := ctx.Err(); err != nil {
			return out, apperror.PropertyServer(err, apperror.CodeRepository, "traversal of %s cancelled after %d relationships", guid, len(out))
		}
		page, more, err := e.pager.Page(ctx, guid, relType, dir, start, e.cfg.FetchSize, pageOpts)
		if err != nil {
			return out, err
		}
		e.cfg.Observer.PageFetched(relType)
		for _, r := range page {
			if !seen[r.GUID] {
				seen[r.GUID] = true
				out = append(out, r)
			}
		}
		if !more {
			return out, nil
		}
	}
}
