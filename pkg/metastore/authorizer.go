package metastore

import (
	"context"

	"github.com/nainya/anchorstore/pkg/apperror"
)

// Operation names the kind of access being checked.
type Operation string

const (
	OpRead     Operation = "read"
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpClassify Operation = "classify"
	OpLink     Operation = "link"
)

// Authorizer decides whether user may perform op on elements of typeName.
// typeName is empty when the type is not known before the operation runs.
type Authorizer interface {
	Authorize(ctx context.Context, user string, op Operation, typeName string) error
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, user string, op Operation, typeName string) error

func (f AuthorizerFunc) Authorize(ctx context.Context, user string, op Operation, typeName string) error {
	return f(ctx, user, op, typeName)
}

// AllowAll permits every operation.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, Operation, string) error { return nil }

// denied normalizes an authorizer error into NotAuthorized.
func denied(err error, user string, op Operation, typeName string) error {
	if ae, ok := err.(*apperror.Error); ok && ae.Kind == apperror.KindNotAuthorized {
		return ae
	}
	return apperror.NotAuthorized(apperror.CodeAccessDenied, "%s may not %s %s", user, op, typeName).WithInternal(err)
}
