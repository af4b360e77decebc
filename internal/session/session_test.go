package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestViewerIDFromUserIDClaim(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"user_id": "u42",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	s := New(token)
	assert.Equal(t, "u42", s.ViewerID())
	assert.True(t, s.Authenticated())
	assert.Equal(t, token, s.Token())
}

func TestViewerIDFallsBackToSub(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"sub": "u7"})

	s := New(token)
	assert.Equal(t, "u7", s.ViewerID())
}

func TestEmptyTokenIsSignedOut(t *testing.T) {
	s := New("")
	assert.Equal(t, "", s.ViewerID())
	assert.False(t, s.Authenticated())
}

func TestGarbageTokenIsSignedOut(t *testing.T) {
	s := New("not-a-jwt")
	assert.Equal(t, "", s.ViewerID())
	assert.False(t, s.Authenticated())
}
