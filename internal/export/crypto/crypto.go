// Package crypto seals export packages under a key derived from the subject's
// password. The derived key exists only inside Seal and Open and is wiped
// before they return.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"dsrengine/internal/export/models"
)

const (
	KDFArgon2id     = "argon2id"
	CipherAES256GCM = "AES-256-GCM"

	SaltSize  = 16
	NonceSize = 12
)

// DefaultKDF is Argon2id with t=3, 64 MiB, 4 lanes and a 256-bit key.
var DefaultKDF = models.KDFParams{
	Algorithm: KDFArgon2id,
	Time:      3,
	MemoryKiB: 64 * 1024,
	Threads:   4,
	KeyLen:    32,
}

// ErrDecrypt hides whether the password or the ciphertext was wrong.
var ErrDecrypt = errors.New("export decryption failed")

// Sealed is the output of Seal. It holds nothing secret.
type Sealed struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
	KDF        models.KDFParams
	Cipher     string
}

// Seal derives a key from password and a fresh salt, then encrypts plaintext
// with AES-256-GCM under a random nonce, authenticating aad.
func Seal(password, plaintext, aad []byte, params models.KDFParams) (*Sealed, error) {
	if len(password) == 0 {
		return nil, errors.New("password is required")
	}
	if err := validate(params); err != nil {
		return nil, err
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := deriveKey(password, salt, params)
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Sealed{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, aad),
		KDF:        params,
		Cipher:     CipherAES256GCM,
	}, nil
}

// Open reverses Seal. Any failure returns ErrDecrypt and no plaintext.
func Open(password, salt, nonce, ciphertext, aad []byte, params models.KDFParams) ([]byte, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrDecrypt
	}
	key := deriveKey(password, salt, params)
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func deriveKey(password, salt []byte, p models.KDFParams) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func validate(p models.KDFParams) error {
	if p.Algorithm != KDFArgon2id {
		return fmt.Errorf("unsupported kdf %q", p.Algorithm)
	}
	if p.KeyLen != 32 {
		return errors.New("kdf key length must be 32 bytes")
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		return errors.New("kdf cost parameters must be positive")
	}
	return nil
}
