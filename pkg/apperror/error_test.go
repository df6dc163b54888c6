package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without internal error",
			err:      InvalidParameter(CodeElementNotFound, "element %s not found", "g1"),
			expected: "element_not_found: element g1 not found",
		},
		{
			name:     "with internal error",
			err:      PropertyServer(errors.New("disk full"), CodeRepository, "write failed"),
			expected: "repository_error: write failed (disk full)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(nil))
	assert.Equal(t, KindInvalidParameter, KindOf(InvalidParameter(CodeUnknownType, "x")))
	assert.Equal(t, KindNotAuthorized, KindOf(NotAuthorized(CodeAccessDenied, "x")))
	assert.Equal(t, KindPropertyServer, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", InvalidParameter(CodeMissingProperty, "qualifiedName"))
	assert.True(t, IsInvalidParameter(wrapped))
	assert.Equal(t, CodeMissingProperty, CodeOf(wrapped))
}

func TestErrorsIs(t *testing.T) {
	err := InvalidParameter(CodeDuplicateValue, "duplicate")

	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidParameter}))
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidParameter, Code: CodeDuplicateValue}))
	assert.False(t, errors.Is(err, &Error{Kind: KindInvalidParameter, Code: CodeUnknownType}))
	assert.False(t, errors.Is(err, &Error{Kind: KindPropertyServer}))
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(nil, "nothing"))

	typed := NotAuthorized(CodeAccessDenied, "no")
	assert.Same(t, typed, Wrap(typed, "ignored"))

	cause := errors.New("io")
	err := Wrap(cause, "read %s", "key")
	assert.True(t, IsPropertyServer(err))
	assert.ErrorIs(t, err, cause)
}

func TestWithHelpersCopy(t *testing.T) {
	base := InvalidParameter(CodeUnresolvedPlaceholder, "unresolved")
	withDetails := base.WithDetails("tokens", []string{"name"})

	assert.Nil(t, base.Details)
	assert.Equal(t, []string{"name"}, withDetails.Details["tokens"])
	assert.Equal(t, "other", base.WithMessage("other").Message)
	assert.Equal(t, "unresolved", base.Message)
}
