package friends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"friendsync/internal/cache"
	"friendsync/internal/models"
	"friendsync/internal/realtime"
	"friendsync/internal/session"

	"github.com/rs/zerolog/log"
)

// ErrScreenClosed is returned for operations on a screen that has been
// torn down.
var ErrScreenClosed = errors.New("screen closed")

// ViewMode selects which profile detail view to render.
type ViewMode int

const (
	// ViewLimited is the restricted profile shown to non-friends.
	ViewLimited ViewMode = iota
	// ViewFull is the complete profile, reserved for resolved friends.
	ViewFull
)

// ViewModeFor maps a resolved status to a detail view. Only a last-resolved
// friend relation unlocks the full view.
func ViewModeFor(status models.FriendshipStatus) ViewMode {
	if status == models.StatusFriend {
		return ViewFull
	}
	return ViewLimited
}

// Options tunes a screen instance. Zero values fall back to defaults.
type Options struct {
	CacheTTL        time.Duration
	RefetchDebounce time.Duration
	SearchDebounce  time.Duration
}

const (
	defaultRefetchDebounce = 300 * time.Millisecond
	defaultSearchDebounce  = 400 * time.Millisecond
	backgroundCallTimeout  = 10 * time.Second
)

// Screen is the controller behind the friends screen: it owns the profile
// cache, the pending-request inbox, the search results and the realtime
// invalidation wiring for exactly one screen instance. Nothing here is
// shared across navigation entries; a new screen gets a fresh Screen.
type Screen struct {
	backend  Backend
	resolver *StatusResolver
	notifier Notifier
	session  *session.Session
	cache    *cache.ProfileCache

	refetchDeb *realtime.Debouncer
	searchDeb  *realtime.Debouncer

	mu          sync.Mutex
	closed      bool
	sub         *realtime.Subscriber
	pending     []models.PendingRequest
	results     []models.SearchResult
	openProfile *models.UserProfile
	openStatus  models.FriendshipStatus
	dispatcher  *ActionDispatcher
}

// NewScreen builds a screen controller for the signed-in session.
func NewScreen(backend Backend, sess *session.Session, notifier Notifier, opts Options) *Screen {
	if opts.RefetchDebounce <= 0 {
		opts.RefetchDebounce = defaultRefetchDebounce
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = defaultSearchDebounce
	}
	return &Screen{
		backend:    backend,
		resolver:   NewStatusResolver(backend, sess),
		notifier:   notifier,
		session:    sess,
		cache:      cache.New(opts.CacheTTL),
		refetchDeb: realtime.NewDebouncer(opts.RefetchDebounce),
		searchDeb:  realtime.NewDebouncer(opts.SearchDebounce),
	}
}

// Resolver exposes the screen's status resolver.
func (s *Screen) Resolver() *StatusResolver {
	return s.resolver
}

// AttachFeed subscribes the screen to the two change feeds. The screen
// takes ownership of the subscriber and closes it on teardown.
func (s *Screen) AttachFeed(sub *realtime.Subscriber) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	sub.OnChange(models.TableFriendRequests, s.onFeedEvent)
	sub.OnChange(models.TableFriendships, s.onFeedEvent)
	sub.Start()
}

// RefreshPending fetches the viewer's incoming request inbox.
func (s *Screen) RefreshPending(ctx context.Context) error {
	pending, err := s.backend.GetPendingFriendRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pending requests: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScreenClosed
	}
	s.pending = pending
	return nil
}

// Pending returns a copy of the current inbox.
func (s *Screen) Pending() []models.PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingRequest, len(s.pending))
	copy(out, s.pending)
	return out
}

// OpenProfile opens a profile detail view. A fresh cache hit skips the
// resolver entirely and renders immediately from cached data; otherwise the
// status is resolved remotely and cached.
func (s *Screen) OpenProfile(ctx context.Context, profile models.UserProfile) (ViewMode, models.FriendshipStatus, error) {
	if s.isClosed() {
		return ViewLimited, models.StatusNone, ErrScreenClosed
	}

	var status models.FriendshipStatus
	if entry, ok := s.cache.Get(profile.ID); ok {
		profile = entry.Profile
		status = entry.Status
	} else {
		status = s.resolver.Resolve(ctx, profile.ID)
		s.cache.Put(profile.ID, profile, status)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ViewLimited, models.StatusNone, ErrScreenClosed
	}
	p := profile
	s.openProfile = &p
	s.openStatus = status
	s.dispatcher = NewActionDispatcher(s.backend, s.resolver, s.notifier, profile, status, s.handleStateChange)
	s.mu.Unlock()

	return ViewModeFor(status), status, nil
}

// CloseProfile dismisses the open detail view.
func (s *Screen) CloseProfile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openProfile = nil
	s.openStatus = models.StatusUnknown
	s.dispatcher = nil
}

// Open returns the currently open profile and its displayed status.
func (s *Screen) Open() (models.UserProfile, models.FriendshipStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openProfile == nil {
		return models.UserProfile{}, models.StatusUnknown, false
	}
	return *s.openProfile, s.openStatus, true
}

// Dispatcher returns the action dispatcher for the open profile, nil when
// no profile is open.
func (s *Screen) Dispatcher() *ActionDispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher
}

// Accept answers the pending request with requestID positively. The entry
// leaves the inbox optimistically and returns if the remote call fails.
func (s *Screen) Accept(ctx context.Context, requestID string) error {
	record, err := s.takePending(requestID)
	if err != nil {
		return err
	}

	resp, err := s.backend.RespondToFriendRequest(ctx, requestID, true)
	if err != nil {
		s.restorePending(*record)
		log.Error().Err(err).Str("request_id", requestID).Msg("Failed to accept friend request")
		s.notifier.Alert("Något gick fel", "Kunde inte besvara vänförfrågan. Försök igen.")
		return err
	}

	s.cache.Invalidate(record.SenderID)

	name := resp.SenderName
	if name == "" {
		name = record.Sender.FullName
	}
	s.notifier.Alert("Ny vän", fmt.Sprintf("Du och %s är nu vänner!", name))

	s.refreshOpenIfMatches(ctx, record.SenderID)
	return nil
}

// Reject answers the pending request with requestID negatively.
func (s *Screen) Reject(ctx context.Context, requestID string) error {
	record, err := s.takePending(requestID)
	if err != nil {
		return err
	}

	if _, err := s.backend.RespondToFriendRequest(ctx, requestID, false); err != nil {
		s.restorePending(*record)
		log.Error().Err(err).Str("request_id", requestID).Msg("Failed to reject friend request")
		s.notifier.Alert("Något gick fel", "Kunde inte besvara vänförfrågan. Försök igen.")
		return err
	}

	s.cache.Invalidate(record.SenderID)
	s.refreshOpenIfMatches(ctx, record.SenderID)
	return nil
}

// SetSearchText feeds a keystroke into the debounced search. An empty text
// clears the results without a remote call.
func (s *Screen) SetSearchText(text string) {
	if s.isClosed() {
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.searchDeb.Stop()
		s.mu.Lock()
		s.results = nil
		s.mu.Unlock()
		return
	}

	s.searchDeb.Trigger(func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
		defer cancel()
		if err := s.SearchNow(ctx, text); err != nil {
			log.Error().Err(err).Str("text", text).Msg("Search failed")
		}
	})
}

// SearchNow runs a search immediately. Every row's status is re-resolved in
// parallel and the result set is stored only once all lookups settle, so no
// row is ever rendered with a stale or missing status.
func (s *Screen) SearchNow(ctx context.Context, text string) error {
	viewerID := s.session.ViewerID()
	if viewerID == "" {
		return nil
	}

	rows, err := s.backend.SearchUsersWithStatus(ctx, viewerID, text)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].UserID
	}
	statuses := s.resolver.ResolveAll(ctx, ids)
	for i := range rows {
		if status, ok := statuses[rows[i].UserID]; ok {
			rows[i].Status = status
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScreenClosed
	}
	s.results = rows
	return nil
}

// Results returns a copy of the current search results.
func (s *Screen) Results() []models.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SearchResult, len(s.results))
	copy(out, s.results)
	return out
}

// Close tears the screen down: pending timers are cancelled, the feed
// subscription is closed and any update arriving afterwards is dropped.
func (s *Screen) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	s.refetchDeb.Stop()
	s.searchDeb.Stop()
	if sub != nil {
		sub.Close()
	}
}

// onFeedEvent filters change-feed events down to those involving the viewer
// or the open profile, then schedules a debounced refetch. Events without
// party information cannot be filtered and always count.
func (s *Screen) onFeedEvent(event models.ChangeEvent) {
	s.mu.Lock()
	closed := s.closed
	open := ""
	if s.openProfile != nil {
		open = s.openProfile.ID
	}
	s.mu.Unlock()
	if closed {
		return
	}

	if len(event.UserIDs) > 0 {
		relevant := event.Involves(s.session.ViewerID()) || (open != "" && event.Involves(open))
		if !relevant {
			return
		}
	}

	s.refetchDeb.Trigger(s.refetch)
}

// refetch re-reads the remote truth after a change-feed burst: the pending
// inbox, and the open profile's status if one is showing.
func (s *Screen) refetch() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
	defer cancel()

	if s.isClosed() {
		return
	}

	if err := s.RefreshPending(ctx); err != nil && !errors.Is(err, ErrScreenClosed) {
		log.Error().Err(err).Msg("Realtime refetch of pending requests failed")
	}

	s.mu.Lock()
	open := s.openProfile
	s.mu.Unlock()
	if open == nil {
		return
	}

	status := s.resolver.Resolve(ctx, open.ID)
	s.cache.Put(open.ID, *open, status)

	s.mu.Lock()
	if !s.closed && s.openProfile != nil && s.openProfile.ID == open.ID {
		s.openStatus = status
		if s.dispatcher != nil {
			s.dispatcher.syncState(status)
		}
	}
	s.mu.Unlock()
}

// handleStateChange follows the dispatcher's local transitions so the
// search list, cache and open view stay aligned without re-polling.
func (s *Screen) handleStateChange(targetID string, status models.FriendshipStatus) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	closeView := false
	if s.openProfile != nil && s.openProfile.ID == targetID {
		if s.openStatus == models.StatusFriend && status == models.StatusNone {
			closeView = true
		}
		s.openStatus = status
	}
	for i := range s.results {
		if s.results[i].UserID == targetID {
			s.results[i].Status = status
		}
	}
	s.mu.Unlock()

	// Accept, reject and remove end or create a relation: drop the entry
	// and force the next view to re-resolve. Send and cancel only move a
	// request around, so the cached snapshot is refreshed in place.
	if entry, ok := s.cache.Get(targetID); ok {
		switch {
		case status == models.StatusFriend,
			entry.Status == models.StatusFriend,
			entry.Status == models.StatusIncoming:
			s.cache.Invalidate(targetID)
		default:
			s.cache.Put(targetID, entry.Profile, status)
		}
	}

	if closeView {
		s.CloseProfile()
	}
}

func (s *Screen) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Screen) takePending(requestID string) (*models.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrScreenClosed
	}
	for i := range s.pending {
		if s.pending[i].ID == requestID {
			record := s.pending[i]
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return &record, nil
		}
	}
	return nil, fmt.Errorf("pending request %s not found", requestID)
}

func (s *Screen) restorePending(record models.PendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, record)
}

// refreshOpenIfMatches re-resolves the open profile when it is the one a
// just-answered request came from.
func (s *Screen) refreshOpenIfMatches(ctx context.Context, userID string) {
	s.mu.Lock()
	open := s.openProfile
	s.mu.Unlock()
	if open == nil || open.ID != userID {
		return
	}

	status := s.resolver.Resolve(ctx, userID)
	s.cache.Put(userID, *open, status)

	s.mu.Lock()
	if !s.closed && s.openProfile != nil && s.openProfile.ID == userID {
		s.openStatus = status
		if s.dispatcher != nil {
			s.dispatcher.syncState(status)
		}
	}
	s.mu.Unlock()
}
