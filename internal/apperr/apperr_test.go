package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(KindBadCode, "code %q rejected", "abc")
	assert.True(t, errors.Is(err, ErrBadCode))
	assert.False(t, errors.Is(err, ErrOutsideGeofence))

	wrapped := fmt.Errorf("submit: %w", err)
	assert.True(t, errors.Is(wrapped, ErrBadCode))
	assert.Equal(t, KindBadCode, KindOf(wrapped))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "foreign", err: errors.New("boom"), want: KindInternal},
		{name: "sentinel", err: ErrDuplicateSubmission, want: KindDuplicateSubmission},
		{name: "wrapped cause", err: Wrap(KindNotFound, errors.New("no rows"), "class"), want: KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "class: no rows", Wrap(KindNotFound, errors.New("no rows"), "class").Error())
	assert.Equal(t, "internal", (&Error{Kind: KindInternal}).Error())
}
