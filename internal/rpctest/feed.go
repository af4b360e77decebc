package rpctest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"friendsync/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Feed fans change events out to every connected websocket client,
// standing in for the backend's realtime change subscriptions.
type Feed struct {
	secret string

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

// NewFeed creates a feed validating tokens with the given secret.
func NewFeed(secret string) *Feed {
	return &Feed{
		secret: secret,
		conns:  make(map[string]*websocket.Conn),
	}
}

// Handle upgrades a feed subscription. Auth is a token query parameter,
// like the real websocket endpoint.
func (f *Feed) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}
	if _, err := validateToken(token, f.secret); err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade feed connection")
		return
	}

	connID := uuid.New().String()
	f.mu.Lock()
	f.conns[connID] = conn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.conns, connID)
		f.mu.Unlock()
		conn.Close()
	}()

	// Drain until the client goes away; the feed is one-directional.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast delivers an event to every subscriber.
func (f *Feed) Broadcast(event models.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal change event")
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, conn := range f.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("conn_id", id).Msg("Failed to deliver change event")
		}
	}
}

// CloseAll drops every subscriber.
func (f *Feed) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, conn := range f.conns {
		conn.Close()
		delete(f.conns, id)
	}
}

// validateToken checks an HS256 token and returns the user id claim.
func validateToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", fmt.Errorf("user_id not found in token")
	}
	return userID, nil
}
