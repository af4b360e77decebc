package friends

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"friendsync/internal/models"
	"friendsync/internal/rpc"
	"friendsync/internal/session"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// stubBackend lets each test script the remote answers directly.
type stubBackend struct {
	checkFn   func(ctx context.Context, viewerID, otherID string) (models.FriendshipStatus, error)
	sendFn    func(ctx context.Context, receiverID string) (*rpc.SendResult, error)
	cancelFn  func(ctx context.Context, receiverID string) error
	respondFn func(ctx context.Context, requestID string, accept bool) (*rpc.RespondResult, error)
	removeFn  func(ctx context.Context, otherUserID string) error
	pendingFn func(ctx context.Context) ([]models.PendingRequest, error)
	searchFn  func(ctx context.Context, viewerID, text string) ([]models.SearchResult, error)

	checkCalls atomic.Int32
}

func (s *stubBackend) CheckFriendshipStatus(ctx context.Context, viewerID, otherID string) (models.FriendshipStatus, error) {
	s.checkCalls.Add(1)
	if s.checkFn != nil {
		return s.checkFn(ctx, viewerID, otherID)
	}
	return models.StatusNone, nil
}

func (s *stubBackend) SendFriendRequest(ctx context.Context, receiverID string) (*rpc.SendResult, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, receiverID)
	}
	return &rpc.SendResult{Success: true}, nil
}

func (s *stubBackend) CancelFriendRequest(ctx context.Context, receiverID string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, receiverID)
	}
	return nil
}

func (s *stubBackend) RespondToFriendRequest(ctx context.Context, requestID string, accept bool) (*rpc.RespondResult, error) {
	if s.respondFn != nil {
		return s.respondFn(ctx, requestID, accept)
	}
	return &rpc.RespondResult{Success: true}, nil
}

func (s *stubBackend) RemoveFriend(ctx context.Context, otherUserID string) error {
	if s.removeFn != nil {
		return s.removeFn(ctx, otherUserID)
	}
	return nil
}

func (s *stubBackend) GetPendingFriendRequests(ctx context.Context) ([]models.PendingRequest, error) {
	if s.pendingFn != nil {
		return s.pendingFn(ctx)
	}
	return nil, nil
}

func (s *stubBackend) SearchUsersWithStatus(ctx context.Context, viewerID, text string) ([]models.SearchResult, error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, viewerID, text)
	}
	return nil, nil
}

// recordingNotifier captures dialogs and answers Confirm with a scripted
// choice.
type recordingNotifier struct {
	mu       sync.Mutex
	alerts   []string
	confirms []string
	answer   bool
}

func (n *recordingNotifier) Alert(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, message)
}

func (n *recordingNotifier) Confirm(title, message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirms = append(n.confirms, message)
	return n.answer
}

func (n *recordingNotifier) Alerts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.alerts))
	copy(out, n.alerts)
	return out
}

func (n *recordingNotifier) Confirms() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.confirms))
	copy(out, n.confirms)
	return out
}

func testSession(t *testing.T, userID string) *session.Session {
	t.Helper()
	if userID == "" {
		return session.New("")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return session.New(signed)
}
