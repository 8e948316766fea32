package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/internal/export/models"
)

// cheap parameters keep the tests fast; production uses DefaultKDF.
var testKDF = models.KDFParams{Algorithm: KDFArgon2id, Time: 1, MemoryKiB: 1024, Threads: 1, KeyLen: 32}

func TestSealOpen(t *testing.T) {
	plaintext := []byte(`{"items":[{"module":"mail","content":"aGVsbG8="}]}`)
	aad := []byte("export-1|JSON")

	sealed, err := Seal([]byte("correct horse battery"), plaintext, aad, testKDF)
	require.NoError(t, err)
	assert.Len(t, sealed.Salt, SaltSize)
	assert.Len(t, sealed.Nonce, NonceSize)
	assert.Equal(t, CipherAES256GCM, sealed.Cipher)
	assert.False(t, bytes.Contains(sealed.Ciphertext, []byte("mail")))

	t.Run("right password reproduces the plaintext", func(t *testing.T) {
		got, err := Open([]byte("correct horse battery"), sealed.Salt, sealed.Nonce, sealed.Ciphertext, aad, testKDF)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	})

	t.Run("wrong password fails without plaintext", func(t *testing.T) {
		got, err := Open([]byte("correct horse battery!"), sealed.Salt, sealed.Nonce, sealed.Ciphertext, aad, testKDF)
		assert.ErrorIs(t, err, ErrDecrypt)
		assert.Nil(t, got)
	})

	t.Run("ciphertext is bound to its export", func(t *testing.T) {
		_, err := Open([]byte("correct horse battery"), sealed.Salt, sealed.Nonce, sealed.Ciphertext, []byte("export-2|JSON"), testKDF)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("tampered ciphertext fails", func(t *testing.T) {
		tampered := bytes.Clone(sealed.Ciphertext)
		tampered[0] ^= 0x01
		_, err := Open([]byte("correct horse battery"), sealed.Salt, sealed.Nonce, tampered, aad, testKDF)
		assert.ErrorIs(t, err, ErrDecrypt)
	})
}

func TestSealUsesFreshSaltAndNonce(t *testing.T) {
	a, err := Seal([]byte("pw-123456"), []byte("same"), nil, testKDF)
	require.NoError(t, err)
	b, err := Seal([]byte("pw-123456"), []byte("same"), nil, testKDF)
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestParamsValidated(t *testing.T) {
	_, err := Seal([]byte("pw"), []byte("x"), nil, models.KDFParams{Algorithm: "scrypt", KeyLen: 32, Time: 1, MemoryKiB: 1, Threads: 1})
	assert.Error(t, err)
	_, err = Seal(nil, []byte("x"), nil, testKDF)
	assert.Error(t, err)
	assert.Equal(t, uint32(64*1024), DefaultKDF.MemoryKiB)
}
