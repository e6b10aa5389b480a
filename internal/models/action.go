package models

import (
	"encoding/json"
	"fmt"
)

// ActionKind identifies a queued mutation. The set is closed: the sync
// engine switches over every kind and rejects anything else, so adding a
// kind without handling it fails fast instead of silently dropping work.
type ActionKind string

const (
	ActionSendFriendRequest      ActionKind = "send_friend_request"
	ActionRespondToFriendRequest ActionKind = "respond_to_friend_request"
	ActionAddFriend              ActionKind = "add_friend"
	ActionRemoveFriend           ActionKind = "remove_friend"
	ActionUpdateProfile          ActionKind = "update_profile"
	ActionSendNotification       ActionKind = "send_notification"
)

// ActionStatus values. Pending and retry are both eligible for replay;
// retry only records that at least one attempt happened.
const (
	ActionStatusPending = "pending"
	ActionStatusRetry   = "retry"
	ActionStatusFailed  = "failed"
)

// PendingAction is a queued mutation awaiting replay against the remote
// platform. Created by the facade, mutated only by the sync engine,
// deleted on confirmed success, retained on permanent failure until an
// operator retries or clears it.
type PendingAction struct {
	Seq        int64           `db:"seq" json:"seq"`
	Kind       ActionKind      `db:"kind" json:"kind"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	Status     string          `db:"status" json:"status"` // pending, retry, failed
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"last_error"`
}

// TableName returns the table name for PendingAction.
func (PendingAction) TableName() string {
	return "pending_actions"
}

// Eligible reports whether the action should be picked up by a drain.
func (a *PendingAction) Eligible() bool {
	return a.Status == ActionStatusPending || a.Status == ActionStatusRetry
}

// Typed payloads, one per ActionKind.

// SendFriendRequestPayload creates a friend-request record remotely.
type SendFriendRequestPayload struct {
	FromUID string `json:"from_uid"`
	ToUID   string `json:"to_uid"`
}

// RespondToFriendRequestPayload updates a friend-request status remotely.
type RespondToFriendRequestPayload struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"` // accepted or rejected
}

// AddFriendPayload creates the symmetric friend-edge pair remotely.
type AddFriendPayload struct {
	UserUID   string `json:"user_uid"`
	FriendUID string `json:"friend_uid"`
}

// RemoveFriendPayload deletes the symmetric friend-edge pair remotely.
type RemoveFriendPayload struct {
	UserUID   string `json:"user_uid"`
	FriendUID string `json:"friend_uid"`
}

// UpdateProfilePayload patches profile fields remotely (last-writer-wins).
type UpdateProfilePayload struct {
	UserUID string                 `json:"user_uid"`
	Updates map[string]interface{} `json:"updates"`
}

// Notification is the push payload dispatched to a friend's device.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// SendNotificationPayload dispatches a push notification remotely.
// Retrying may cause duplicate delivery; accepted trade-off.
type SendNotificationPayload struct {
	TargetUID    string       `json:"target_uid"`
	Notification Notification `json:"notification"`
}

// NewPendingAction builds an action with its payload marshaled, ready to
// be persisted by the store (which assigns Seq).
func NewPendingAction(kind ActionKind, payload interface{}, enqueuedAt int64) (*PendingAction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &PendingAction{
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: enqueuedAt,
		Status:     ActionStatusPending,
	}, nil
}

// DecodePayload unmarshals the action payload into dst.
func (a *PendingAction) DecodePayload(dst interface{}) error {
	if err := json.Unmarshal(a.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", a.Kind, err)
	}
	return nil
}
