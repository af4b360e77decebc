package friends

import (
	"context"
	"sync"

	"friendsync/internal/models"
	"friendsync/internal/rpc"
	"friendsync/internal/session"

	"github.com/rs/zerolog/log"
)

// Backend is the slice of the remote procedure surface the friend
// subsystem consumes. *rpc.Client satisfies it; tests substitute the
// in-memory fake.
type Backend interface {
	CheckFriendshipStatus(ctx context.Context, viewerID, otherID string) (models.FriendshipStatus, error)
	SendFriendRequest(ctx context.Context, receiverID string) (*rpc.SendResult, error)
	CancelFriendRequest(ctx context.Context, receiverID string) error
	RespondToFriendRequest(ctx context.Context, requestID string, accept bool) (*rpc.RespondResult, error)
	RemoveFriend(ctx context.Context, otherUserID string) error
	GetPendingFriendRequests(ctx context.Context) ([]models.PendingRequest, error)
	SearchUsersWithStatus(ctx context.Context, viewerID, text string) ([]models.SearchResult, error)
}

// StatusResolver answers "what is my relation to this user" by asking the
// backend. It performs no state derivation of its own and always fails open
// to the least-privileged answer.
type StatusResolver struct {
	backend Backend
	session *session.Session
}

// NewStatusResolver creates a resolver bound to the viewer's session.
func NewStatusResolver(backend Backend, sess *session.Session) *StatusResolver {
	return &StatusResolver{backend: backend, session: sess}
}

// Resolve returns the friendship status between the viewer and targetID.
// Unauthenticated viewers get none without a remote call; remote errors are
// logged and degrade to none, never to friend.
func (r *StatusResolver) Resolve(ctx context.Context, targetID string) models.FriendshipStatus {
	viewerID := r.session.ViewerID()
	if viewerID == "" || targetID == "" {
		return models.StatusNone
	}

	status, err := r.backend.CheckFriendshipStatus(ctx, viewerID, targetID)
	if err != nil {
		log.Error().
			Err(err).
			Str("target_id", targetID).
			Msg("Failed to check friendship status")
		return models.StatusNone
	}
	return status
}

// ResolveAll resolves a batch of targets concurrently and returns only once
// every lookup has settled, so callers never render a partial, possibly
// inconsistent set of per-row statuses.
func (r *StatusResolver) ResolveAll(ctx context.Context, targetIDs []string) map[string]models.FriendshipStatus {
	results := make(map[string]models.FriendshipStatus, len(targetIDs))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range targetIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			status := r.Resolve(ctx, id)
			mu.Lock()
			results[id] = status
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return results
}
