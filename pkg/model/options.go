package model

import (
	"context"
	"time"

	"github.com/nainya/anchorstore/pkg/apperror"
)

// DefaultMaxPageSize is the server-enforced page size cap used when none is
// configured.
const DefaultMaxPageSize = 500

// Options carries request-scoped paging and filtering.
type Options struct {
	StartFrom int `json:"startFrom,omitempty"`
	PageSize  int `json:"pageSize,omitempty"`

	// EffectiveTime hides elements and relationships whose effectivity
	// window excludes it. Nil means now.
	EffectiveTime *time.Time `json:"effectiveTime,omitempty"`

	// AsOfTime reads the version current at that time.
	AsOfTime *time.Time `json:"asOfTime,omitempty"`

	// TypeName narrows results to the type and its subtypes.
	TypeName string `json:"typeName,omitempty"`

	IncludeDeleted bool `json:"includeDeleted,omitempty"`
}

// Normalize validates the paging fields and clamps the page size to max.
// A zero page size means max.
func (o Options) Normalize(max int) (Options, error) {
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if o.StartFrom < 0 {
		return o, apperror.InvalidParameter(apperror.CodeInvalidOption, "startFrom must not be negative, got %d", o.StartFrom)
	}
	if o.PageSize < 0 {
		return o, apperror.InvalidParameter(apperror.CodeInvalidOption, "pageSize must not be negative, got %d", o.PageSize)
	}
	if o.PageSize == 0 || o.PageSize > max {
		o.PageSize = max
	}
	return o, nil
}

// Effective returns the effective time to filter on.
func (o Options) Effective(now time.Time) time.Time {
	if o.EffectiveTime != nil {
		return *o.EffectiveTime
	}
	return now
}

// Unpaged returns a copy without paging, for internal lookups.
func (o Options) Unpaged() Options {
	o.StartFrom = 0
	o.PageSize = 0
	return o
}

// Paginate returns the page of items selected by a normalized Options.
func Paginate[T any](items []T, o Options) []T {
	if o.StartFrom >= len(items) {
		return []T{}
	}
	end := len(items)
	if o.PageSize > 0 && o.StartFrom+o.PageSize < end {
		end = o.StartFrom + o.PageSize
	}
	return items[o.StartFrom:end]
}

type userKey struct{}

// WithUser attaches the calling user to ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the calling user, or "anonymous".
func UserFrom(ctx context.Context) string {
	if u, ok := ctx.Value(userKey{}).(string); ok && u != "" {
		return u
	}
	return "anonymous"
}
