package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the stored access token for the signed-in user. The viewer
// id is read from the token's claims without signature verification: the
// client only needs to know who it is acting as, the backend re-verifies
// every call anyway.
type Session struct {
	token    string
	viewerID string
}

// New builds a session from a stored access token. An empty token yields a
// signed-out session with an empty viewer id.
func New(token string) *Session {
	s := &Session{token: token}
	if token != "" {
		if id, err := extractUserID(token); err == nil {
			s.viewerID = id
		}
	}
	return s
}

// Token returns the raw bearer token, empty when signed out.
func (s *Session) Token() string {
	return s.token
}

// ViewerID returns the signed-in user's id, or "" when unauthenticated or
// the token is unreadable.
func (s *Session) ViewerID() string {
	return s.viewerID
}

// Authenticated reports whether a viewer id could be determined.
func (s *Session) Authenticated() bool {
	return s.viewerID != ""
}

func extractUserID(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("user_id not found in token")
}
