package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/waveline-app/core/internal/models"
)

func TestCreateFriendRequestDecodesEnvelope(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/friend-requests" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"data": models.FriendRequest{
				ID:      "req-42",
				FromUID: body["from_uid"],
				ToUID:   body["to_uid"],
				Status:  models.RequestStatusPending,
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "secret-token")
	req, err := client.CreateFriendRequest(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("CreateFriendRequest failed: %v", err)
	}
	if req.ID != "req-42" || req.FromUID != "alice" {
		t.Errorf("unexpected decoded request: %+v", req)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("missing bearer token, got %q", gotAuth)
	}
}

func TestRejectionSurfacesAsCodedAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": false,
			"error": map[string]string{
				"code":    CodeDuplicateRequest,
				"message": "request already pending",
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "")
	_, err := client.CreateFriendRequest(context.Background(), "alice", "bob")
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !HasCode(err, CodeDuplicateRequest) {
		t.Errorf("expected DUPLICATE_REQUEST code, got %v", err)
	}
	if Transient(err) {
		t.Error("a coded 409 rejection must not be classified transient")
	}
}

func TestUndecodableResponseIsBadResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "")
	_, err := client.FetchProfile(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error")
	}
	if !HasCode(err, "BAD_RESPONSE") {
		t.Errorf("expected BAD_RESPONSE, got %v", err)
	}
	if !Transient(err) {
		t.Error("a 502 must be classified transient")
	}
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"server error", &APIError{Code: "UNKNOWN", HTTPStatus: 500}, true},
		{"throttled", &APIError{Code: "UNKNOWN", HTTPStatus: 429}, true},
		{"delivery hiccup", &APIError{Code: CodeDeliveryError, HTTPStatus: 200}, true},
		{"username taken", &APIError{Code: CodeUsernameTaken, HTTPStatus: 409}, false},
		{"notifications disabled", &APIError{Code: CodeNotificationsDisabled, HTTPStatus: 403}, false},
		{"deadline", context.DeadlineExceeded, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Transient(tc.err); got != tc.transient {
				t.Errorf("Transient(%v) = %v, want %v", tc.err, got, tc.transient)
			}
		})
	}
}

func TestSearchUsesQueryParameters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("username_prefix"); got != "ka" {
			t.Errorf("expected username_prefix=ka, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":   true,
			"data": []models.UserProfile{{UID: "u1", Username: "kara"}},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "")
	profiles, err := client.SearchProfilesByUsernamePrefix(context.Background(), "ka")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Username != "kara" {
		t.Errorf("unexpected profiles: %+v", profiles)
	}
}
