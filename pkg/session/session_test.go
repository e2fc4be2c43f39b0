package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{name: "uuid", id: "0b9e4c1e-7d1f-4e4b-9d55-2f57e7a0b1aa", ok: true},
		{name: "short", id: "s1", ok: true},
		{name: "empty", id: "", ok: false},
		{name: "spaces", id: "a b", ok: false},
		{name: "too long", id: strings.Repeat("a", 129), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := New(tt.id)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.id, s.ID)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidID)
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	s := Mint()
	require.True(t, Valid(s.ID))

	got, ok := FromContext(IntoContext(context.Background(), s))
	require.True(t, ok)
	assert.Equal(t, s, got)
}
