package friends

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"friendsync/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrActionInFlight is returned when HandleRequest is re-entered while a
// previous action on the same pair has not settled yet (rapid double-tap).
var ErrActionInFlight = errors.New("action already in flight")

// Notifier abstracts the dialogs the dispatcher raises, so the transition
// logic stays testable without a UI.
type Notifier interface {
	// Alert shows a blocking message.
	Alert(title, message string)
	// Confirm asks for an explicit yes/no and reports the choice.
	Confirm(title, message string) bool
}

// StateChangeFunc is notified after every local state transition so sibling
// views (search list, cache) can follow along without re-polling.
type StateChangeFunc func(targetID string, status models.FriendshipStatus)

// ActionDispatcher drives the friend-request button for one (viewer,
// target) pair. Its single operation acts on the currently displayed state,
// applies the new state optimistically, and rolls back if the remote call
// fails.
type ActionDispatcher struct {
	backend  Backend
	resolver *StatusResolver
	notifier Notifier
	target   models.UserProfile
	onChange StateChangeFunc

	mu    sync.Mutex
	state models.FriendshipStatus
	busy  bool
}

// NewActionDispatcher creates a dispatcher for one pair, starting from the
// last resolved status.
func NewActionDispatcher(backend Backend, resolver *StatusResolver, notifier Notifier, target models.UserProfile, initial models.FriendshipStatus, onChange StateChangeFunc) *ActionDispatcher {
	return &ActionDispatcher{
		backend:  backend,
		resolver: resolver,
		notifier: notifier,
		target:   target,
		onChange: onChange,
		state:    initial,
	}
}

// State returns the currently displayed friendship status.
func (d *ActionDispatcher) State() models.FriendshipStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Label returns the action text for the current state, which is also the
// only action HandleRequest can take: the button can never offer send while
// the pair is already requested.
func (d *ActionDispatcher) Label() string {
	switch d.State() {
	case models.StatusNone:
		return "Lägg till vän"
	case models.StatusRequested:
		return "Avbryt förfrågan"
	case models.StatusIncoming:
		return "Acceptera"
	case models.StatusFriend:
		return "Vänner"
	default:
		return ""
	}
}

// HandleRequest performs the action matching the displayed state.
func (d *ActionDispatcher) HandleRequest(ctx context.Context) error {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return ErrActionInFlight
	}
	d.busy = true
	prev := d.state
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.busy = false
		d.mu.Unlock()
	}()

	switch prev {
	case models.StatusNone:
		return d.send(ctx, prev)
	case models.StatusRequested:
		return d.cancel(ctx, prev)
	case models.StatusIncoming:
		return d.accept(ctx, prev)
	case models.StatusFriend:
		return d.remove(ctx, prev)
	default:
		// Still resolving; nothing to do yet.
		return nil
	}
}

func (d *ActionDispatcher) send(ctx context.Context, prev models.FriendshipStatus) error {
	d.setState(models.StatusRequested)

	if _, err := d.backend.SendFriendRequest(ctx, d.target.ID); err != nil {
		d.setState(prev)
		log.Error().Err(err).Str("target_id", d.target.ID).Msg("Failed to send friend request")
		d.notifier.Alert("Något gick fel", "Kunde inte skicka vänförfrågan. Försök igen.")
		return err
	}
	return nil
}

func (d *ActionDispatcher) cancel(ctx context.Context, prev models.FriendshipStatus) error {
	d.setState(models.StatusNone)

	if err := d.backend.CancelFriendRequest(ctx, d.target.ID); err != nil {
		d.setState(prev)
		// Passive action, log only.
		log.Error().Err(err).Str("target_id", d.target.ID).Msg("Failed to cancel friend request")
		return err
	}
	return nil
}

func (d *ActionDispatcher) accept(ctx context.Context, prev models.FriendshipStatus) error {
	request, err := d.findIncomingRequest(ctx)
	if err != nil {
		log.Error().Err(err).Str("target_id", d.target.ID).Msg("Incoming request not found")
		return err
	}

	d.setState(models.StatusFriend)

	resp, err := d.backend.RespondToFriendRequest(ctx, request.ID, true)
	if err != nil {
		d.setState(prev)
		log.Error().Err(err).Str("request_id", request.ID).Msg("Failed to accept friend request")
		d.notifier.Alert("Något gick fel", "Kunde inte acceptera vänförfrågan. Försök igen.")
		return err
	}

	name := resp.SenderName
	if name == "" {
		name = d.target.FullName
	}
	d.notifier.Alert("Ny vän", fmt.Sprintf("Du och %s är nu vänner!", name))

	// Double-check against the backend rather than trusting the
	// optimistic value alone.
	d.setState(d.resolver.Resolve(ctx, d.target.ID))
	return nil
}

func (d *ActionDispatcher) remove(ctx context.Context, prev models.FriendshipStatus) error {
	ok := d.notifier.Confirm("Ta bort vän", fmt.Sprintf("Vill du ta bort %s som vän?", d.target.FullName))
	if !ok {
		return nil
	}

	// Destructive and already confirmed: transition only once the remote
	// removal actually went through, so the full view never closes on a
	// relation that still exists.
	if err := d.backend.RemoveFriend(ctx, d.target.ID); err != nil {
		// Passive action, log only.
		log.Error().Err(err).Str("target_id", d.target.ID).Msg("Failed to remove friend")
		return err
	}

	d.setState(models.StatusNone)
	return nil
}

// findIncomingRequest locates the pending request sent by the target to
// the viewer. Aborts without mutating local state when the row is gone.
func (d *ActionDispatcher) findIncomingRequest(ctx context.Context) (*models.PendingRequest, error) {
	pending, err := d.backend.GetPendingFriendRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending requests: %w", err)
	}
	for i := range pending {
		if pending[i].SenderID == d.target.ID {
			return &pending[i], nil
		}
	}
	return nil, fmt.Errorf("no pending request from %s", d.target.ID)
}

// syncState aligns the displayed state with an externally resolved value
// without notifying back the component that resolved it.
func (d *ActionDispatcher) syncState(status models.FriendshipStatus) {
	d.mu.Lock()
	d.state = status
	d.mu.Unlock()
}

func (d *ActionDispatcher) setState(status models.FriendshipStatus) {
	d.mu.Lock()
	d.state = status
	d.mu.Unlock()

	if d.onChange != nil {
		d.onChange(d.target.ID, status)
	}
}
