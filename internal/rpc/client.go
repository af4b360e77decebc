package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"friendsync/internal/models"
	"friendsync/internal/session"
)

// ErrNotFound is returned when the backend reports that the addressed row
// (typically a request being cancelled or answered) no longer exists.
var ErrNotFound = errors.New("not found")

// Client invokes the backend's remote procedures over HTTP. Every procedure
// is a POST to {base}/rpc/{name} with a JSON body and a bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	session *session.Session
}

// NewClient creates an RPC client bound to a session.
func NewClient(baseURL string, sess *session.Session) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		session: sess,
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

// CheckFriendshipStatus resolves the relation between the viewer and
// another user. The lookup logic lives entirely in the backend.
func (c *Client) CheckFriendshipStatus(ctx context.Context, viewerID, otherID string) (models.FriendshipStatus, error) {
	req := map[string]string{"viewer_id": viewerID, "other_id": otherID}
	var resp statusResponse
	if err := c.call(ctx, "check_friendship_status", req, &resp); err != nil {
		return models.StatusNone, err
	}
	return models.ParseFriendshipStatus(resp.Status), nil
}

// SendResult is the backend's answer to send_friend_request.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SendFriendRequest creates a pending request from the viewer to receiverID.
func (c *Client) SendFriendRequest(ctx context.Context, receiverID string) (*SendResult, error) {
	req := map[string]string{"receiver_id": receiverID}
	var resp SendResult
	if err := c.call(ctx, "send_friend_request", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("send_friend_request rejected: %s", resp.Message)
	}
	return &resp, nil
}

// CancelFriendRequest deletes the viewer's pending outgoing request to
// receiverID. ErrNotFound when no such row exists.
func (c *Client) CancelFriendRequest(ctx context.Context, receiverID string) error {
	req := map[string]string{"receiver_id": receiverID}
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.call(ctx, "cancel_friend_request", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("cancel_friend_request rejected")
	}
	return nil
}

// RespondResult is the backend's answer to respond_to_friend_request.
type RespondResult struct {
	Success    bool   `json:"success"`
	SenderName string `json:"sender_name,omitempty"`
}

// RespondToFriendRequest accepts or rejects a pending request by id.
func (c *Client) RespondToFriendRequest(ctx context.Context, requestID string, accept bool) (*RespondResult, error) {
	req := map[string]any{"request_id": requestID, "accept": accept}
	var resp RespondResult
	if err := c.call(ctx, "respond_to_friend_request", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("respond_to_friend_request rejected")
	}
	return &resp, nil
}

// RemoveFriend deletes the mutual friendship with otherUserID.
func (c *Client) RemoveFriend(ctx context.Context, otherUserID string) error {
	req := map[string]string{"other_user_id": otherUserID}
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.call(ctx, "remove_friend", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("remove_friend rejected")
	}
	return nil
}

// GetPendingFriendRequests fetches the viewer's incoming request inbox.
func (c *Client) GetPendingFriendRequests(ctx context.Context) ([]models.PendingRequest, error) {
	var resp []models.PendingRequest
	if err := c.call(ctx, "get_pending_friend_requests", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SearchUsersWithStatus searches users by name, each row carrying the
// friendship status relative to the viewer.
func (c *Client) SearchUsersWithStatus(ctx context.Context, viewerID, text string) ([]models.SearchResult, error) {
	req := map[string]string{"viewer_id": viewerID, "text": text}
	var resp []models.SearchResult
	if err := c.call(ctx, "search_users_with_status", req, &resp); err != nil {
		return nil, err
	}
	for i := range resp {
		resp[i].Status = models.ParseFriendshipStatus(string(resp[i].Status))
	}
	return resp, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) call(ctx context.Context, procedure string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", procedure, err)
	}

	url := c.baseURL + "/rpc/" + procedure
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", procedure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := c.session.Token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", procedure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", procedure, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s failed: %s", procedure, errResp.Error)
		}
		return fmt.Errorf("%s failed with status %d", procedure, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", procedure, err)
	}
	// A bare "null" answer is legal and leaves out at its zero value.
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", procedure, err)
	}
	return nil
}
