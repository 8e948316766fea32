package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"dsrengine/pkg/domain"
)

const tokenDigits = 6

var tokenSpace = big.NewInt(1_000_000)

// TokenGenerator produces the one-time code mailed to the subject.
type TokenGenerator func() (string, error)

func randomToken() (string, error) {
	n, err := rand.Int(rand.Reader, tokenSpace)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return fmt.Sprintf("%0*d", tokenDigits, n.Int64()), nil
}

// hashToken binds the token to the subject so a digest cannot be replayed for
// another session.
func hashToken(subject domain.SubjectID, token string) string {
	sum := sha256.Sum256([]byte(string(subject) + ":" + token))
	return hex.EncodeToString(sum[:])
}

func tokenMatches(storedHash string, subject domain.SubjectID, token string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashToken(subject, token))) == 1
}
