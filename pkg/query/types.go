// ABOUTME: Query engine types: traversal descriptions and the pager contract
// ABOUTME: Also holds the observer hook used for fetch and null-skip metrics

package query

import (
	"context"

	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
)

// Pager reads relationships of an element one page at a time from a stable
// start offset.
type Pager interface {
	Page(ctx context.Context, guid, relType string, dir model.Direction, start, size int, opts model.Options) ([]*model.Relationship, bool, error)
}

// Elements is the element read surface the engine needs.
type Elements interface {
	Get(ctx context.Context, guid string, opts model.Options) (*model.Element, error)
	GetByName(ctx context.Context, name string, props []string, opts model.Options) ([]*model.Element, error)
	Find(ctx context.Context, search string, props []string, opts model.Options) ([]*model.Element, error)
	FindByProperties(ctx context.Context, criteria property.Search, opts model.Options) ([]*model.Element, error)
	Visible(e *model.Element, opts model.Options) bool
}

// Observer receives engine events. Implementations must be safe for
// concurrent use.
type Observer interface {
	PageFetched(relType string)
	NullSkipped(query string)
}

type nopObserver struct{}

func (nopObserver) PageFetched(string) {}
func (nopObserver) NullSkipped(string) {}

// Traversal describes a relationship-bounded walk from a start element.
type Traversal struct {
	Direction        model.Direction `json:"direction,omitempty"`
	RelationshipType string          `json:"relationshipType,omitempty"`

	// ResultType narrows the returned elements to the type and its subtypes.
	ResultType string `json:"resultType,omitempty"`

	// Hops is the exact distance of returned elements. Zero means one.
	Hops int `json:"hops,omitempty"`
}

// TraversalBuilder provides a fluent interface for building traversals
type TraversalBuilder struct {
	t Traversal
}

// NewTraversal starts a one-hop traversal over relType in any direction.
func NewTraversal(relType string) *TraversalBuilder {
	return &TraversalBuilder{t: Traversal{RelationshipType: relType, Direction: model.DirectionAny, Hops: 1}}
}

// FromEnd1 follows relationships whose end1 is the current element.
func (b *TraversalBuilder) FromEnd1() *TraversalBuilder {
	b.t.Direction = model.DirectionFromEnd1
	return b
}

// FromEnd2 follows relationships whose end2 is the current element.
func (b *TraversalBuilder) FromEnd2() *TraversalBuilder {
	b.t.Direction = model.DirectionFromEnd2
	return b
}

// Returning sets the result type filter.
func (b *TraversalBuilder) Returning(typeName string) *TraversalBuilder {
	b.t.ResultType = typeName
	return b
}

// Hops sets the exact hop count.
func (b *TraversalBuilder) Hops(n int) *TraversalBuilder {
	b.t.Hops = n
	return b
}

// Build returns the constructed traversal
func (b *TraversalBuilder) Build() Traversal {
	return b.t
}
