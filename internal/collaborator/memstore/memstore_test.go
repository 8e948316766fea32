package memstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := New("mail")
	store.Put("u1", "m1", "message", []byte("hello"))
	store.Put("u1", "m2", "message", []byte("world"))
	store.Put("u2", "m3", "message", []byte("other"))

	items, err := store.FindBySubject(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "m1", items[0].ItemID)
	assert.Equal(t, "mail/m1", items[0].Key())

	h, err := store.Open(ctx, "m1")
	require.NoError(t, err)
	_, err = h.WriteAt([]byte("HE"), 0)
	require.NoError(t, err)
	require.NoError(t, h.Sync())
	buf := make([]byte, 10)
	n, err := h.ReadAt(buf, 0)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "HEllo", string(buf[:n]))
	assert.Equal(t, 1, store.Syncs("m1"))

	_, err = h.WriteAt([]byte("too long"), 0)
	assert.Error(t, err, "items never grow")

	store.IgnoreWrites("m2", true)
	h2, err := store.Open(ctx, "m2")
	require.NoError(t, err)
	_, err = h2.WriteAt([]byte("XXXXX"), 0)
	require.NoError(t, err)
	data, err := store.Read(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	store.FailWith(errors.New("down"))
	_, err = store.FindBySubject(ctx, "u1")
	assert.Error(t, err)
}
