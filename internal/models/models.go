package models

import "time"

// FriendshipStatus describes the relation between a viewer and another user,
// as last resolved from the backend. The backend is the only source of truth;
// the client never derives this value locally.
type FriendshipStatus string

const (
	// StatusUnknown is the pre-resolution state. It never comes off the wire.
	StatusUnknown   FriendshipStatus = "unknown"
	StatusNone      FriendshipStatus = "none"
	StatusRequested FriendshipStatus = "requested"
	StatusIncoming  FriendshipStatus = "incoming"
	StatusFriend    FriendshipStatus = "friend"
)

// ParseFriendshipStatus maps a remote answer to a status. Anything
// unrecognized, including an empty or null answer, degrades to none so a
// bad payload can never promote a pair to friend.
func ParseFriendshipStatus(s string) FriendshipStatus {
	switch FriendshipStatus(s) {
	case StatusNone, StatusRequested, StatusIncoming, StatusFriend:
		return FriendshipStatus(s)
	default:
		return StatusNone
	}
}

// UserProfile is the snapshot of another user shown on profile views.
type UserProfile struct {
	ID              string `json:"user_id"`
	FullName        string `json:"full_name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

// PendingRequest is one entry of the viewer's incoming-request inbox.
type PendingRequest struct {
	ID        string      `json:"id"`
	SenderID  string      `json:"sender_id"`
	CreatedAt time.Time   `json:"created_at"`
	Sender    UserProfile `json:"profile"`
}

// SearchResult is one row of a user search, with the friendship status
// already resolved server-side relative to the viewer.
type SearchResult struct {
	UserID          string           `json:"user_id"`
	FullName        string           `json:"full_name"`
	Username        string           `json:"username"`
	ProfileImageURL string           `json:"profile_image_url,omitempty"`
	Status          FriendshipStatus `json:"status"`
}

// Change-feed relation tags.
const (
	TableFriendRequests = "friend_requests"
	TableFriendships    = "friendships"
)

// ChangeEvent is a realtime change-feed frame: rows in a relation changed.
// UserIDs carries the affected parties so clients can drop events that do
// not involve them; no row payload travels beyond that.
type ChangeEvent struct {
	Table   string   `json:"table"`
	Type    string   `json:"type"` // INSERT, UPDATE or DELETE
	UserIDs []string `json:"user_ids,omitempty"`
}

// Involves reports whether the event touches the given user.
func (e ChangeEvent) Involves(userID string) bool {
	for _, id := range e.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
