package friends

import (
	"context"
	"testing"
	"time"

	"friendsync/internal/models"
	"friendsync/internal/realtime"
	"friendsync/internal/rpc"
	"friendsync/internal/rpctest"
	"friendsync/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	annaProfile    = models.UserProfile{ID: "u1", FullName: "Anna Andersson", Username: "anna"}
	bjornProfile   = models.UserProfile{ID: "u2", FullName: "Björn Berg", Username: "bjorn"}
	ceciliaProfile = models.UserProfile{ID: "u3", FullName: "Cecilia Carlsson", Username: "cecilia"}
)

func newTestScreen(t *testing.T) (*Screen, *rpctest.Server, *recordingNotifier) {
	t.Helper()

	server := rpctest.NewServer("test-secret")
	server.AddUser(models.UserProfile{ID: "viewer", FullName: "Test Viewer", Username: "viewer"})
	server.AddUser(annaProfile)
	server.AddUser(bjornProfile)
	server.AddUser(ceciliaProfile)
	server.Start()
	t.Cleanup(server.Close)

	sess := session.New(server.MintToken("viewer"))
	client := rpc.NewClient(server.BaseURL(), sess)
	notifier := &recordingNotifier{}
	screen := NewScreen(client, sess, notifier, Options{
		RefetchDebounce: 50 * time.Millisecond,
		SearchDebounce:  10 * time.Millisecond,
	})
	t.Cleanup(screen.Close)

	return screen, server, notifier
}

func TestSearchTapAndSendRequest(t *testing.T) {
	screen, server, _ := newTestScreen(t)
	ctx := context.Background()

	require.NoError(t, screen.SearchNow(ctx, "anna"))
	results := screen.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "u1", results[0].UserID)
	assert.Equal(t, models.StatusNone, results[0].Status)

	// Tapping a stranger's row opens the limited view.
	mode, status, err := screen.OpenProfile(ctx, annaProfile)
	require.NoError(t, err)
	assert.Equal(t, ViewLimited, mode)
	assert.Equal(t, models.StatusNone, status)

	// Tapping "Lägg till vän" sends the request and flips the button.
	d := screen.Dispatcher()
	require.NotNil(t, d)
	assert.Equal(t, "Lägg till vän", d.Label())
	require.NoError(t, d.HandleRequest(ctx))
	assert.Equal(t, models.StatusRequested, d.State())
	assert.Equal(t, 1, server.CallCount("send_friend_request"))

	// The backend now reports the pending direction.
	assert.Equal(t, models.StatusRequested, screen.Resolver().Resolve(ctx, "u1"))

	// Sibling views followed the transition without re-polling.
	assert.Equal(t, models.StatusRequested, screen.Results()[0].Status)
	_, open, ok := screen.Open()
	require.True(t, ok)
	assert.Equal(t, models.StatusRequested, open)
}

func TestAcceptPendingRequest(t *testing.T) {
	screen, server, notifier := newTestScreen(t)
	ctx := context.Background()

	requestID := server.AddRequest("u2", "viewer")
	require.NoError(t, screen.RefreshPending(ctx))
	require.Len(t, screen.Pending(), 1)

	// Prime the cache so the invalidation is observable.
	_, _, err := screen.OpenProfile(ctx, bjornProfile)
	require.NoError(t, err)
	_, cached := screen.cache.Get("u2")
	require.True(t, cached)
	screen.CloseProfile()

	require.NoError(t, screen.Accept(ctx, requestID))

	// The request left the inbox and the confirmation names the sender.
	assert.Empty(t, screen.Pending())
	require.NotEmpty(t, notifier.Alerts())
	assert.Equal(t, "Du och Björn Berg är nu vänner!", notifier.Alerts()[0])

	// The sender's cache entry is gone, forcing a fresh resolution.
	_, cached = screen.cache.Get("u2")
	assert.False(t, cached)
	assert.Equal(t, models.StatusFriend, screen.Resolver().Resolve(ctx, "u2"))
	assert.True(t, server.AreFriends("viewer", "u2"))
}

func TestRejectPendingRequestInvalidatesSender(t *testing.T) {
	screen, server, _ := newTestScreen(t)
	ctx := context.Background()

	requestID := server.AddRequest("u2", "viewer")
	require.NoError(t, screen.RefreshPending(ctx))

	_, _, err := screen.OpenProfile(ctx, bjornProfile)
	require.NoError(t, err)
	screen.CloseProfile()

	require.NoError(t, screen.Reject(ctx, requestID))

	assert.Empty(t, screen.Pending())
	_, cached := screen.cache.Get("u2")
	assert.False(t, cached)
	assert.Equal(t, models.StatusNone, screen.Resolver().Resolve(ctx, "u2"))
	assert.False(t, server.AreFriends("viewer", "u2"))
}

func TestAcceptFailureRestoresInbox(t *testing.T) {
	screen, server, notifier := newTestScreen(t)
	ctx := context.Background()

	requestID := server.AddRequest("u2", "viewer")
	require.NoError(t, screen.RefreshPending(ctx))
	require.Len(t, screen.Pending(), 1)

	// Another device answers the same request first, so the row is gone
	// by the time this screen's accept lands.
	otherDevice := rpc.NewClient(server.BaseURL(), session.New(server.MintToken("viewer")))
	_, err := otherDevice.RespondToFriendRequest(ctx, requestID, false)
	require.NoError(t, err)

	err = screen.Accept(ctx, requestID)
	require.Error(t, err)

	// The optimistic removal was rolled back; the next realtime refetch
	// will reconcile with the remote truth.
	assert.Len(t, screen.Pending(), 1)
	assert.Len(t, notifier.Alerts(), 1)
}

func TestReopenWithinWindowUsesCache(t *testing.T) {
	screen, server, _ := newTestScreen(t)
	ctx := context.Background()

	now := time.Now()
	screen.cache.SetClock(func() time.Time { return now })

	_, _, err := screen.OpenProfile(ctx, annaProfile)
	require.NoError(t, err)
	assert.Equal(t, 1, server.CallCount("check_friendship_status"))
	screen.CloseProfile()

	// Second open 10 minutes later hits the cache: no resolver call.
	now = now.Add(10 * time.Minute)
	_, _, err = screen.OpenProfile(ctx, annaProfile)
	require.NoError(t, err)
	assert.Equal(t, 1, server.CallCount("check_friendship_status"))
	screen.CloseProfile()

	// 31 minutes past the refresh the entry is stale and re-resolved.
	now = now.Add(31 * time.Minute)
	_, _, err = screen.OpenProfile(ctx, annaProfile)
	require.NoError(t, err)
	assert.Equal(t, 2, server.CallCount("check_friendship_status"))
}

func TestRemoveFriendClosesFullView(t *testing.T) {
	screen, server, notifier := newTestScreen(t)
	notifier.answer = true
	ctx := context.Background()

	server.Befriend("viewer", "u3")

	mode, status, err := screen.OpenProfile(ctx, ceciliaProfile)
	require.NoError(t, err)
	assert.Equal(t, ViewFull, mode)
	assert.Equal(t, models.StatusFriend, status)

	require.NoError(t, screen.Dispatcher().HandleRequest(ctx))

	assert.Equal(t, 1, server.CallCount("remove_friend"))
	assert.False(t, server.AreFriends("viewer", "u3"))

	// The full view is dismissed and the next resolution reports none.
	_, _, ok := screen.Open()
	assert.False(t, ok)
	assert.Equal(t, models.StatusNone, screen.Resolver().Resolve(ctx, "u3"))
}

func TestFullViewRequiresFriendState(t *testing.T) {
	screen, server, _ := newTestScreen(t)
	ctx := context.Background()

	server.AddRequest("u1", "viewer")

	mode, status, err := screen.OpenProfile(ctx, annaProfile)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIncoming, status)
	assert.Equal(t, ViewLimited, mode)
}

func TestRealtimeBurstTriggersOneRefetch(t *testing.T) {
	screen, server, _ := newTestScreen(t)
	ctx := context.Background()

	require.NoError(t, screen.RefreshPending(ctx))

	sub := realtime.NewSubscriber(server.WSURL(), server.MintToken("viewer"), time.Second)
	screen.AttachFeed(sub)
	time.Sleep(100 * time.Millisecond) // let the feed connect

	server.AddRequest("u1", "viewer")
	baseline := server.CallCount("get_pending_friend_requests")

	for i := 0; i < 5; i++ {
		server.Emit(models.ChangeEvent{
			Table:   models.TableFriendRequests,
			Type:    "INSERT",
			UserIDs: []string{"u1", "viewer"},
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)

	// Five events inside the debounce window collapse into one refetch.
	assert.Equal(t, baseline+1, server.CallCount("get_pending_friend_requests"))
	assert.Len(t, screen.Pending(), 1)
}

func TestRealtimeIgnoresUnrelatedParties(t *testing.T) {
	screen, server, _ := newTestScreen(t)
	ctx := context.Background()

	require.NoError(t, screen.RefreshPending(ctx))

	sub := realtime.NewSubscriber(server.WSURL(), server.MintToken("viewer"), time.Second)
	screen.AttachFeed(sub)
	time.Sleep(100 * time.Millisecond)

	baseline := server.CallCount("get_pending_friend_requests")
	server.Emit(models.ChangeEvent{
		Table:   models.TableFriendships,
		Type:    "INSERT",
		UserIDs: []string{"someone", "else"},
	})

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, baseline, server.CallCount("get_pending_friend_requests"))
}

func TestRealtimeRefreshesOpenProfile(t *testing.T) {
	screen, server, _ := newTestScreen(t)
	ctx := context.Background()

	_, status, err := screen.OpenProfile(ctx, annaProfile)
	require.NoError(t, err)
	require.Equal(t, models.StatusNone, status)

	sub := realtime.NewSubscriber(server.WSURL(), server.MintToken("viewer"), time.Second)
	screen.AttachFeed(sub)
	time.Sleep(100 * time.Millisecond)

	// Anna sends a request from her device; the feed announces it.
	server.AddRequest("u1", "viewer")
	server.Emit(models.ChangeEvent{
		Table:   models.TableFriendRequests,
		Type:    "INSERT",
		UserIDs: []string{"u1", "viewer"},
	})

	require.Eventually(t, func() bool {
		_, open, ok := screen.Open()
		return ok && open == models.StatusIncoming
	}, 2*time.Second, 25*time.Millisecond)

	// The fresh resolution also replaced the cached entry.
	entry, ok := screen.cache.Get("u1")
	require.True(t, ok)
	assert.Equal(t, models.StatusIncoming, entry.Status)
	assert.Len(t, screen.Pending(), 1)
}

func TestClosedScreenDropsEverything(t *testing.T) {
	screen, _, _ := newTestScreen(t)
	ctx := context.Background()

	screen.Close()

	_, _, err := screen.OpenProfile(ctx, annaProfile)
	assert.ErrorIs(t, err, ErrScreenClosed)
	assert.ErrorIs(t, screen.RefreshPending(ctx), ErrScreenClosed)

	// No panic, no late state: keystrokes after teardown are dropped.
	screen.SetSearchText("anna")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, screen.Results())

	// Closing twice is safe.
	screen.Close()
}

func TestDebouncedSearchCoalescesKeystrokes(t *testing.T) {
	screen, server, _ := newTestScreen(t)

	screen.SetSearchText("a")
	screen.SetSearchText("an")
	screen.SetSearchText("ann")
	screen.SetSearchText("anna")

	require.Eventually(t, func() bool {
		results := screen.Results()
		return len(results) == 1 && results[0].UserID == "u1"
	}, 2*time.Second, 25*time.Millisecond)

	// Only the final keystroke reached the backend.
	assert.Equal(t, 1, server.CallCount("search_users_with_status"))
}
