package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "dsrengine/pkg/domain-errors"
)

func TestNormalize(t *testing.T) {
	got, err := Normalize("  Ada.Lovelace@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "ada.lovelace@example.com", got)

	for _, bad := range []string{"", "not-an-address", "Ada <ada@example.com>", "a@"} {
		_, err := Normalize(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), bad)
	}
}

func TestDeriveNameFromEmail(t *testing.T) {
	first, last := DeriveNameFromEmail("ada.lovelace@example.com")
	assert.Equal(t, "Ada", first)
	assert.Equal(t, "Lovelace", last)

	first, last = DeriveNameFromEmail("@example.com")
	assert.Equal(t, "User", first)
	assert.Equal(t, "User", last)
}

func TestOutbox(t *testing.T) {
	o := NewOutbox()
	expires := time.Date(2026, 7, 1, 9, 15, 0, 0, time.UTC)
	require.NoError(t, o.SendToken(context.Background(), "ada@example.com", "123456", expires))

	m, ok := o.Last("ada@example.com")
	require.True(t, ok)
	assert.Equal(t, "123456", m.Token)
	assert.Contains(t, m.Body, "Hello Ada")
	assert.Contains(t, m.Body, "123456")

	_, ok = o.Last("other@example.com")
	assert.False(t, ok)
}
