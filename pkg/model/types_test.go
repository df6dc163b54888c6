package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/property"
)

func TestUpdateModeValidate(t *testing.T) {
	tests := []struct {
		mode    UpdateMode
		wantErr bool
	}{
		{ModeMerge, false},
		{ModeReplace, false},
		{"", true},
		{"replace", true},
		{"UPSERT", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			err := tt.mode.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperror.IsInvalidParameter(err))
			assert.Equal(t, apperror.CodeInvalidOption, apperror.CodeOf(err))
		})
	}
}

func TestUpdateModeApply(t *testing.T) {
	current := property.Bag{"a": property.String("1"), "b": property.String("2")}
	update := property.Bag{"b": property.String("3")}

	merged := ModeMerge.Apply(current, update)
	assert.Equal(t, "1", merged.GetString("a"))
	assert.Equal(t, "3", merged.GetString("b"))

	replaced := ModeReplace.Apply(current, update)
	assert.Len(t, replaced, 1)
	assert.Equal(t, "3", replaced.GetString("b"))
}
