package friends

import (
	"context"
	"errors"
	"testing"

	"friendsync/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestResolveUnauthenticatedSkipsRemoteCall(t *testing.T) {
	backend := &stubBackend{}
	r := NewStatusResolver(backend, testSession(t, ""))

	status := r.Resolve(context.Background(), "u1")

	assert.Equal(t, models.StatusNone, status)
	assert.Equal(t, int32(0), backend.checkCalls.Load())
}

func TestResolveEmptyTargetIsNone(t *testing.T) {
	backend := &stubBackend{}
	r := NewStatusResolver(backend, testSession(t, "viewer"))

	assert.Equal(t, models.StatusNone, r.Resolve(context.Background(), ""))
	assert.Equal(t, int32(0), backend.checkCalls.Load())
}

func TestResolveRemoteErrorFailsOpenToNone(t *testing.T) {
	backend := &stubBackend{
		checkFn: func(ctx context.Context, viewerID, otherID string) (models.FriendshipStatus, error) {
			return models.StatusFriend, errors.New("service unavailable")
		},
	}
	r := NewStatusResolver(backend, testSession(t, "viewer"))

	// An error can never promote to friend, even if the payload says so.
	assert.Equal(t, models.StatusNone, r.Resolve(context.Background(), "u1"))
}

func TestResolveReportsRemoteAnswer(t *testing.T) {
	backend := &stubBackend{
		checkFn: func(ctx context.Context, viewerID, otherID string) (models.FriendshipStatus, error) {
			if otherID == "friend-id" {
				return models.StatusFriend, nil
			}
			return models.StatusIncoming, nil
		},
	}
	r := NewStatusResolver(backend, testSession(t, "viewer"))

	assert.Equal(t, models.StatusFriend, r.Resolve(context.Background(), "friend-id"))
	assert.Equal(t, models.StatusIncoming, r.Resolve(context.Background(), "other-id"))
}

func TestResolveAllSettlesEveryTarget(t *testing.T) {
	backend := &stubBackend{
		checkFn: func(ctx context.Context, viewerID, otherID string) (models.FriendshipStatus, error) {
			switch otherID {
			case "u1":
				return models.StatusFriend, nil
			case "u2":
				return models.StatusRequested, nil
			default:
				return models.StatusNone, errors.New("boom")
			}
		},
	}
	r := NewStatusResolver(backend, testSession(t, "viewer"))

	statuses := r.ResolveAll(context.Background(), []string{"u1", "u2", "u3"})

	assert.Len(t, statuses, 3)
	assert.Equal(t, models.StatusFriend, statuses["u1"])
	assert.Equal(t, models.StatusRequested, statuses["u2"])
	assert.Equal(t, models.StatusNone, statuses["u3"])
}
