// Package remote defines the boundary to the managed platform that owns
// authoritative user, friend, and notification state. The core treats
// every operation here as an opaque, possibly-failing network call.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/waveline-app/core/internal/models"
)

// Client is the set of remote collaborator operations the core depends
// on. Implementations must return coded *APIError values for platform
// rejections so the sync engine can classify them.
type Client interface {
	// Writes
	CreateFriendRequest(ctx context.Context, fromUID, toUID string) (*models.FriendRequest, error)
	UpdateFriendRequestStatus(ctx context.Context, requestID, status string) error
	CreateFriendEdgePair(ctx context.Context, userUID, friendUID string) error
	DeleteFriendEdgePair(ctx context.Context, userUID, friendUID string) error
	PatchProfile(ctx context.Context, userUID string, fields map[string]interface{}) (*models.UserProfile, error)
	DispatchNotification(ctx context.Context, targetUID string, n models.Notification) error

	// Read-only lookups
	FetchProfile(ctx context.Context, uid string) (*models.UserProfile, error)
	SearchProfilesByUsernamePrefix(ctx context.Context, prefix string) ([]*models.UserProfile, error)
	ListFriendEdges(ctx context.Context, userUID string) ([]*models.FriendEdge, error)
	ListIncomingRequests(ctx context.Context, userUID string) ([]*models.FriendRequest, error)
}

// Platform rejection codes. The wire protocol is dictated by the
// collaborator; these are the codes the core reacts to.
const (
	CodeDuplicateRequest      = "DUPLICATE_REQUEST"
	CodeNotFound              = "NOT_FOUND"
	CodeAlreadyFriends        = "ALREADY_FRIENDS"
	CodeUsernameTaken         = "USERNAME_TAKEN"
	CodeNoToken               = "NO_TOKEN"
	CodeNotificationsDisabled = "NOTIFICATIONS_DISABLED"
	CodeDeliveryError         = "DELIVERY_ERROR"
)

// APIError is a rejection reported by the platform itself, as opposed to
// a transport failure reaching it.
type APIError struct {
	Code       string
	Message    string
	HTTPStatus int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("remote: %s (%s)", e.Message, e.Code)
}

// HasCode reports whether err is an APIError carrying the given code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Transient reports whether the failure is worth retrying: transport
// errors, timeouts, and 5xx/429-class platform failures. Coded
// rejections like UsernameTaken are permanent.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatus >= 500 || apiErr.HTTPStatus == 429 {
			return true
		}
		// DeliveryError covers downstream push transport hiccups.
		return apiErr.Code == CodeDeliveryError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Anything that never produced a platform response is assumed to be
	// a connectivity problem.
	return true
}
