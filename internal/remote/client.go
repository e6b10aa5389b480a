package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/waveline-app/core/internal/models"
)

const (
	// DefaultTimeout bounds each platform call; there is no additional
	// per-action timeout in the sync engine.
	DefaultTimeout = 30 * time.Second
)

// HTTPClient talks to the platform's REST surface.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout overrides the transport timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = client }
}

// NewHTTPClient creates a platform client. token may be empty for
// endpoints that accept anonymous calls.
func NewHTTPClient(baseURL, token string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// envelope is the platform's uniform response wrapper.
type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &APIError{
			Code:       "BAD_RESPONSE",
			Message:    fmt.Sprintf("undecodable response (%d)", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	}

	if !env.OK {
		apiErr := &APIError{
			Code:       "UNKNOWN",
			Message:    "request rejected",
			HTTPStatus: resp.StatusCode,
		}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}

	return env.Data, nil
}

// =====================================================
// Writes
// =====================================================

// CreateFriendRequest creates a friend-request record. The platform
// rejects with DUPLICATE_REQUEST when a pending request in the same
// direction already exists.
func (c *HTTPClient) CreateFriendRequest(ctx context.Context, fromUID, toUID string) (*models.FriendRequest, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/api/friend-requests", map[string]string{
		"from_uid": fromUID,
		"to_uid":   toUID,
	}, nil)
	if err != nil {
		return nil, err
	}

	var req models.FriendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode friend request: %w", err)
	}
	return &req, nil
}

// UpdateFriendRequestStatus updates a request's status. Rejects with
// NOT_FOUND when requestID is absent.
func (c *HTTPClient) UpdateFriendRequestStatus(ctx context.Context, requestID, status string) error {
	_, err := c.doRequest(ctx, http.MethodPatch, "/api/friend-requests/"+url.PathEscape(requestID),
		map[string]string{"status": status}, nil)
	return err
}

// CreateFriendEdgePair creates the symmetric edge pair. Rejects with
// ALREADY_FRIENDS if either direction exists.
func (c *HTTPClient) CreateFriendEdgePair(ctx context.Context, userUID, friendUID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/friends", map[string]string{
		"user_uid":   userUID,
		"friend_uid": friendUID,
	}, nil)
	return err
}

// DeleteFriendEdgePair deletes the symmetric edge pair. Succeeds even
// when no edge exists.
func (c *HTTPClient) DeleteFriendEdgePair(ctx context.Context, userUID, friendUID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete,
		"/api/friends/"+url.PathEscape(userUID)+"/"+url.PathEscape(friendUID), nil, nil)
	return err
}

// PatchProfile patches profile fields and returns the updated profile.
// Rejects with USERNAME_TAKEN when a username field collides.
func (c *HTTPClient) PatchProfile(ctx context.Context, userUID string, fields map[string]interface{}) (*models.UserProfile, error) {
	data, err := c.doRequest(ctx, http.MethodPatch, "/api/profiles/"+url.PathEscape(userUID), fields, nil)
	if err != nil {
		return nil, err
	}

	var profile models.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

// DispatchNotification dispatches a push notification to targetUID's
// devices. Rejects with NO_TOKEN, NOTIFICATIONS_DISABLED, or
// DELIVERY_ERROR.
func (c *HTTPClient) DispatchNotification(ctx context.Context, targetUID string, n models.Notification) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/notifications", map[string]interface{}{
		"target_uid":   targetUID,
		"notification": n,
	}, nil)
	return err
}

// =====================================================
// Read-only lookups
// =====================================================

// FetchProfile returns the profile for uid.
func (c *HTTPClient) FetchProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(uid), nil, nil)
	if err != nil {
		return nil, err
	}

	var profile models.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

// SearchProfilesByUsernamePrefix returns profiles whose username starts
// with prefix.
func (c *HTTPClient) SearchProfilesByUsernamePrefix(ctx context.Context, prefix string) ([]*models.UserProfile, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/profiles", nil, map[string]string{
		"username_prefix": prefix,
	})
	if err != nil {
		return nil, err
	}

	var profiles []*models.UserProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return profiles, nil
}

// ListFriendEdges returns all friend edges owned by userUID.
func (c *HTTPClient) ListFriendEdges(ctx context.Context, userUID string) ([]*models.FriendEdge, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/friends/"+url.PathEscape(userUID), nil, nil)
	if err != nil {
		return nil, err
	}

	var edges []*models.FriendEdge
	if err := json.Unmarshal(data, &edges); err != nil {
		return nil, fmt.Errorf("decode friend edges: %w", err)
	}
	return edges, nil
}

// ListIncomingRequests returns pending requests addressed to userUID.
func (c *HTTPClient) ListIncomingRequests(ctx context.Context, userUID string) ([]*models.FriendRequest, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/friend-requests", nil, map[string]string{
		"to_uid": userUID,
	})
	if err != nil {
		return nil, err
	}

	var requests []*models.FriendRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("decode friend requests: %w", err)
	}
	return requests, nil
}
