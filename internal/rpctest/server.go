// Package rpctest is an in-memory stand-in for the remote backend: the six
// friend procedures plus the websocket change feed, backed by maps. Package
// tests run against it, and the watcher command boots one in local mode.
package rpctest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"friendsync/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "user_id"

type requestRow struct {
	ID         string
	SenderID   string
	ReceiverID string
	CreatedAt  time.Time
}

// Server is a fake backend. All state lives in memory and every mutation
// broadcasts a change event on the feed, like the real service's change
// subscriptions would.
type Server struct {
	secret string
	feed   *Feed
	ts     *httptest.Server

	mu          sync.Mutex
	users       map[string]models.UserProfile
	requests    map[string]requestRow
	friendships map[string]map[string]bool
	callCounts  map[string]int
}

// NewServer creates a fake backend signing tokens with the given secret.
func NewServer(secret string) *Server {
	s := &Server{
		secret:      secret,
		users:       make(map[string]models.UserProfile),
		requests:    make(map[string]requestRow),
		friendships: make(map[string]map[string]bool),
		callCounts:  make(map[string]int),
	}
	s.feed = NewFeed(secret)
	return s
}

// Start begins serving on a local listener.
func (s *Server) Start() {
	s.ts = httptest.NewServer(s.Router())
}

// Close shuts the server down. Feed connections go first so their hijacked
// handlers return before the listener waits on outstanding requests.
func (s *Server) Close() {
	s.feed.CloseAll()
	if s.ts != nil {
		s.ts.Close()
	}
}

// BaseURL returns the RPC base URL, valid after Start.
func (s *Server) BaseURL() string {
	return s.ts.URL + "/api/v1"
}

// WSURL returns the change-feed endpoint, valid after Start.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
}

// Router builds the HTTP surface: authenticated RPC routes plus the feed.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/rpc/{procedure}", s.handleRPC)
		})
	})
	r.Get("/ws", s.feed.Handle)
	return r
}

// MintToken signs an access token for userID the way the real auth service
// would.
func (s *Server) MintToken(userID string) string {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().AddDate(0, 0, 365).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte(s.secret))
	return signed
}

// AddUser seeds a user profile.
func (s *Server) AddUser(profile models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[profile.ID] = profile
}

// AddRequest seeds a pending request and returns its id.
func (s *Server) AddRequest(senderID, receiverID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := requestRow{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		CreatedAt:  time.Now(),
	}
	s.requests[row.ID] = row
	return row.ID
}

// Befriend seeds a mutual friendship.
func (s *Server) Befriend(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link(a, b)
}

// AreFriends reports whether a mutual friendship exists.
func (s *Server) AreFriends(a, b string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friendships[a][b]
}

// Emit pushes an arbitrary event onto the change feed, standing in for a
// mutation made by some other device or user.
func (s *Server) Emit(event models.ChangeEvent) {
	s.feed.Broadcast(event)
}

// CallCount reports how many times the given procedure has been invoked.
func (s *Server) CallCount(procedure string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCounts[procedure]
}

// DropFeedConnections severs every feed connection, simulating a network
// blip so reconnect behavior can be exercised.
func (s *Server) DropFeedConnections() {
	s.feed.CloseAll()
}

func (s *Server) link(a, b string) {
	if s.friendships[a] == nil {
		s.friendships[a] = make(map[string]bool)
	}
	if s.friendships[b] == nil {
		s.friendships[b] = make(map[string]bool)
	}
	s.friendships[a][b] = true
	s.friendships[b][a] = true
}

func (s *Server) unlink(a, b string) {
	delete(s.friendships[a], b)
	delete(s.friendships[b], a)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		userID, err := validateToken(parts[1], s.secret)
		if err != nil {
			respondError(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	procedure := chi.URLParam(r, "procedure")
	viewerID, _ := r.Context().Value(userIDKey).(string)

	s.mu.Lock()
	s.callCounts[procedure]++
	s.mu.Unlock()

	switch procedure {
	case "check_friendship_status":
		s.checkFriendshipStatus(w, r, viewerID)
	case "send_friend_request":
		s.sendFriendRequest(w, r, viewerID)
	case "cancel_friend_request":
		s.cancelFriendRequest(w, r, viewerID)
	case "respond_to_friend_request":
		s.respondToFriendRequest(w, r, viewerID)
	case "remove_friend":
		s.removeFriend(w, r, viewerID)
	case "get_pending_friend_requests":
		s.getPendingFriendRequests(w, viewerID)
	case "search_users_with_status":
		s.searchUsersWithStatus(w, r, viewerID)
	default:
		respondError(w, "unknown procedure", http.StatusNotFound)
	}
}

// statusBetween computes the relation the real stored procedure would
// return. Callers must hold s.mu.
func (s *Server) statusBetween(viewerID, otherID string) models.FriendshipStatus {
	if s.friendships[viewerID][otherID] {
		return models.StatusFriend
	}
	for _, row := range s.requests {
		if row.SenderID == viewerID && row.ReceiverID == otherID {
			return models.StatusRequested
		}
		if row.SenderID == otherID && row.ReceiverID == viewerID {
			return models.StatusIncoming
		}
	}
	return models.StatusNone
}

func (s *Server) checkFriendshipStatus(w http.ResponseWriter, r *http.Request, viewerID string) {
	var req struct {
		OtherID string `json:"other_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherID == "" {
		respondError(w, "other_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	status := s.statusBetween(viewerID, req.OtherID)
	s.mu.Unlock()

	respondJSON(w, map[string]string{"status": string(status)})
}

func (s *Server) sendFriendRequest(w http.ResponseWriter, r *http.Request, viewerID string) {
	var req struct {
		ReceiverID string `json:"receiver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReceiverID == "" {
		respondError(w, "receiver_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, ok := s.users[req.ReceiverID]; !ok {
		s.mu.Unlock()
		respondError(w, "user not found", http.StatusNotFound)
		return
	}
	if req.ReceiverID == viewerID {
		s.mu.Unlock()
		respondJSON(w, map[string]any{"success": false, "message": "cannot befriend yourself"})
		return
	}
	if s.statusBetween(viewerID, req.ReceiverID) != models.StatusNone {
		s.mu.Unlock()
		respondJSON(w, map[string]any{"success": false, "message": "relation already exists"})
		return
	}
	row := requestRow{
		ID:         uuid.New().String(),
		SenderID:   viewerID,
		ReceiverID: req.ReceiverID,
		CreatedAt:  time.Now(),
	}
	s.requests[row.ID] = row
	s.mu.Unlock()

	s.feed.Broadcast(models.ChangeEvent{
		Table:   models.TableFriendRequests,
		Type:    "INSERT",
		UserIDs: []string{viewerID, req.ReceiverID},
	})
	respondJSON(w, map[string]any{"success": true})
}

func (s *Server) cancelFriendRequest(w http.ResponseWriter, r *http.Request, viewerID string) {
	var req struct {
		ReceiverID string `json:"receiver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReceiverID == "" {
		respondError(w, "receiver_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	var found *requestRow
	for _, row := range s.requests {
		if row.SenderID == viewerID && row.ReceiverID == req.ReceiverID {
			match := row
			found = &match
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		respondError(w, "request not found", http.StatusNotFound)
		return
	}
	delete(s.requests, found.ID)
	s.mu.Unlock()

	s.feed.Broadcast(models.ChangeEvent{
		Table:   models.TableFriendRequests,
		Type:    "DELETE",
		UserIDs: []string{viewerID, req.ReceiverID},
	})
	respondJSON(w, map[string]any{"success": true})
}

func (s *Server) respondToFriendRequest(w http.ResponseWriter, r *http.Request, viewerID string) {
	var req struct {
		RequestID string `json:"request_id"`
		Accept    bool   `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		respondError(w, "request_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	row, ok := s.requests[req.RequestID]
	if !ok {
		s.mu.Unlock()
		respondError(w, "request not found", http.StatusNotFound)
		return
	}
	if row.ReceiverID != viewerID {
		s.mu.Unlock()
		respondError(w, "not the receiver of this request", http.StatusForbidden)
		return
	}
	delete(s.requests, req.RequestID)
	senderName := s.users[row.SenderID].FullName
	if req.Accept {
		s.link(row.SenderID, row.ReceiverID)
	}
	s.mu.Unlock()

	s.feed.Broadcast(models.ChangeEvent{
		Table:   models.TableFriendRequests,
		Type:    "DELETE",
		UserIDs: []string{row.SenderID, row.ReceiverID},
	})
	if req.Accept {
		s.feed.Broadcast(models.ChangeEvent{
			Table:   models.TableFriendships,
			Type:    "INSERT",
			UserIDs: []string{row.SenderID, row.ReceiverID},
		})
	}
	respondJSON(w, map[string]any{"success": true, "sender_name": senderName})
}

func (s *Server) removeFriend(w http.ResponseWriter, r *http.Request, viewerID string) {
	var req struct {
		OtherUserID string `json:"other_user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherUserID == "" {
		respondError(w, "other_user_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if !s.friendships[viewerID][req.OtherUserID] {
		s.mu.Unlock()
		respondError(w, "friendship not found", http.StatusNotFound)
		return
	}
	s.unlink(viewerID, req.OtherUserID)
	s.mu.Unlock()

	s.feed.Broadcast(models.ChangeEvent{
		Table:   models.TableFriendships,
		Type:    "DELETE",
		UserIDs: []string{viewerID, req.OtherUserID},
	})
	respondJSON(w, map[string]any{"success": true})
}

func (s *Server) getPendingFriendRequests(w http.ResponseWriter, viewerID string) {
	s.mu.Lock()
	var pending []models.PendingRequest
	for _, row := range s.requests {
		if row.ReceiverID != viewerID {
			continue
		}
		pending = append(pending, models.PendingRequest{
			ID:        row.ID,
			SenderID:  row.SenderID,
			CreatedAt: row.CreatedAt,
			Sender:    s.users[row.SenderID],
		})
	}
	s.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})
	if pending == nil {
		pending = []models.PendingRequest{}
	}
	respondJSON(w, pending)
}

func (s *Server) searchUsersWithStatus(w http.ResponseWriter, r *http.Request, viewerID string) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	needle := strings.ToLower(strings.TrimSpace(req.Text))

	s.mu.Lock()
	var results []models.SearchResult
	for id, profile := range s.users {
		if id == viewerID {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(profile.FullName), needle) &&
			!strings.Contains(strings.ToLower(profile.Username), needle) {
			continue
		}
		results = append(results, models.SearchResult{
			UserID:          id,
			FullName:        profile.FullName,
			Username:        profile.Username,
			ProfileImageURL: profile.ProfileImageURL,
			Status:          s.statusBetween(viewerID, id),
		})
	}
	s.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].FullName < results[j].FullName
	})
	if results == nil {
		results = []models.SearchResult{}
	}
	respondJSON(w, results)
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
