package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "dsrengine/pkg/domain-errors"
	authmw "dsrengine/pkg/platform/middleware/auth"
)

var jwtService = NewJWTService("test-signing-key", "test-issuer")

func Test_GenerateOperatorToken(t *testing.T) {
	token, err := jwtService.GenerateOperatorToken("alice", authmw.RoleOperator, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.Equal(t, authmw.RoleOperator, claims.Role)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)

	_, err = jwtService.GenerateOperatorToken("", authmw.RoleOperator, time.Hour)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateOperatorToken("alice", authmw.RoleOperator, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, "token has expired", err.Error())
}

func Test_ValidateToken_OtherIssuerOrKey(t *testing.T) {
	other := NewJWTService("test-signing-key", "someone-else")
	token, err := other.GenerateOperatorToken("mallory", authmw.RoleOperator, time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))

	forged := NewJWTService("another-key", "test-issuer")
	token, err = forged.GenerateOperatorToken("mallory", authmw.RoleOperator, time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func Test_OperatorValidator(t *testing.T) {
	validator := NewOperatorValidator(jwtService)

	t.Run("maps claims for the middleware", func(t *testing.T) {
		token, err := jwtService.GenerateOperatorToken("alice", authmw.RoleOperator, time.Hour)
		require.NoError(t, err)

		claims, err := validator.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Operator)
		assert.Equal(t, authmw.RoleOperator, claims.Role)
		assert.NotEmpty(t, claims.JTI)
	})

	t.Run("operator must be the token subject", func(t *testing.T) {
		now := time.Now()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
			Operator: "alice",
			Role:     authmw.RoleOperator,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "mallory",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(now),
				Issuer:    "test-issuer",
				Audience:  []string{Audience},
			},
		}).SignedString([]byte("test-signing-key"))
		require.NoError(t, err)

		_, err = jwtService.ValidateToken(token)
		require.NoError(t, err, "signature and registered claims are valid")
		_, err = validator.ValidateToken(token)
		assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
	})
}
