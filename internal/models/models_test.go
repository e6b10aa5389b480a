package models

import (
	"testing"
	"time"
)

// TestEdgeKey tests composite key construction for friend edges.
func TestEdgeKey(t *testing.T) {
	key := EdgeKey("alice", "bob")
	if key != "alice_bob" {
		t.Errorf("Expected alice_bob, got %s", key)
	}

	// Ordered pair: reverse direction is a different key
	if EdgeKey("bob", "alice") == key {
		t.Error("Reverse edge must not share a key with the forward edge")
	}
}

// TestFriendRequestKeyFallback tests the client-optimistic key fallback.
func TestFriendRequestKeyFallback(t *testing.T) {
	r := &FriendRequest{FromUID: "u1", ToUID: "u2"}
	if r.Key() != "u1_u2" {
		t.Errorf("Expected composite key u1_u2, got %s", r.Key())
	}

	r.ID = "req-42"
	if r.Key() != "req-42" {
		t.Errorf("Expected server ID to win, got %s", r.Key())
	}
}

// TestMessageKeyFallback tests the sender/timestamp fallback key.
func TestMessageKeyFallback(t *testing.T) {
	m := &Message{FromUID: "u1", CreatedAt: 1700000000}
	if m.Key() != "u1_1700000000" {
		t.Errorf("Unexpected fallback key: %s", m.Key())
	}
}

// TestPendingActionRoundTrip tests payload encode/decode.
func TestPendingActionRoundTrip(t *testing.T) {
	now := time.Now().Unix()
	action, err := NewPendingAction(ActionSendFriendRequest,
		SendFriendRequestPayload{FromUID: "u1", ToUID: "u2"}, now)
	if err != nil {
		t.Fatalf("NewPendingAction failed: %v", err)
	}

	if action.Status != ActionStatusPending {
		t.Errorf("Expected pending status, got %s", action.Status)
	}
	if !action.Eligible() {
		t.Error("Pending action must be eligible for replay")
	}

	var payload SendFriendRequestPayload
	if err := action.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if payload.FromUID != "u1" || payload.ToUID != "u2" {
		t.Errorf("Payload mismatch: %+v", payload)
	}
}

// TestActionEligibility tests that retry counts as eligible and failed does not.
func TestActionEligibility(t *testing.T) {
	a := &PendingAction{Status: ActionStatusRetry}
	if !a.Eligible() {
		t.Error("Retry action must be eligible")
	}

	a.Status = ActionStatusFailed
	if a.Eligible() {
		t.Error("Failed action must not be eligible")
	}
}
