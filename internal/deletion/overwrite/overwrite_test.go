package overwrite

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/internal/collaborator/filestore"
	"dsrengine/internal/collaborator/memstore"
)

func TestThreePass(t *testing.T) {
	t.Run("memory item is overwritten and hashes are distinct", func(t *testing.T) {
		store := memstore.New("mail")
		store.Put("u1", "m1", "message", []byte("secret message body"))
		h, err := store.Open(context.Background(), "m1")
		require.NoError(t, err)

		hashes, err := ThreePass(h)
		require.NoError(t, err)
		assert.NoError(t, Distinct(hashes))
		assert.Equal(t, 3, store.Syncs("m1"), "every pass is flushed")

		data, err := store.Read(context.Background(), "m1")
		require.NoError(t, err)
		assert.NotContains(t, string(data), "secret")
		assert.False(t, bytes.Equal(data, bytes.Repeat([]byte{0xFF}, len(data))), "last pass is random")
	})

	t.Run("file larger than one chunk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blob")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("a"), chunkSize*2+17), 0o600))
		f, err := filestore.OpenFile(path)
		require.NoError(t, err)
		defer f.Close()

		hashes, err := ThreePass(f)
		require.NoError(t, err)
		assert.NoError(t, Distinct(hashes))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, data, chunkSize*2+17)
		assert.NotContains(t, string(data[:64]), "aaaa")
	})

	t.Run("writes that do not land are detected", func(t *testing.T) {
		store := memstore.New("mail")
		store.Put("u1", "m1", "message", []byte("stuck"))
		store.IgnoreWrites("m1", true)
		h, err := store.Open(context.Background(), "m1")
		require.NoError(t, err)

		_, err = ThreePass(h)
		assert.ErrorIs(t, err, ErrUnchanged)
	})

	t.Run("empty target", func(t *testing.T) {
		store := memstore.New("mail")
		store.Put("u1", "m1", "message", nil)
		h, err := store.Open(context.Background(), "m1")
		require.NoError(t, err)

		_, err = ThreePass(h)
		assert.ErrorIs(t, err, ErrEmpty)
	})
}

func TestDistinct(t *testing.T) {
	assert.NoError(t, Distinct([3]string{"a", "b", "c"}))
	assert.ErrorIs(t, Distinct([3]string{"a", "a", "c"}), ErrUnchanged)
	assert.ErrorIs(t, Distinct([3]string{"a", "b", "a"}), ErrUnchanged)
}
