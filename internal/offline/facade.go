// Package offline provides the single call surface application code
// uses for every friend, profile, and notification operation. Reads are
// cache-aside against the local store; writes either go straight to the
// remote platform or are queued for the sync engine.
package offline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waveline-app/core/internal/connectivity"
	"github.com/waveline-app/core/internal/db"
	apperrors "github.com/waveline-app/core/internal/errors"
	"github.com/waveline-app/core/internal/logging"
	"github.com/waveline-app/core/internal/models"
	"github.com/waveline-app/core/internal/remote"
)

// Drainer is the sliver of the sync engine the facade needs: a nudge
// after queuing so a new action doesn't wait for the next natural
// trigger.
type Drainer interface {
	NotifyEnqueued()
}

// Result is the synchronous outcome of a write operation. Offline marks
// optimistic results whose true outcome is only discoverable later via
// sync status.
type Result struct {
	Success   bool   `json:"success"`
	Offline   bool   `json:"offline"`
	RequestID string `json:"request_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Facade dispatches each call over the network or into the queue. It
// never retries; the sync engine is the only retry authority.
type Facade struct {
	repo    *db.Repository
	remote  remote.Client
	monitor connectivity.Monitor
	drainer Drainer
}

// New creates a Facade.
func New(repo *db.Repository, remoteClient remote.Client, monitor connectivity.Monitor, drainer Drainer) *Facade {
	return &Facade{
		repo:    repo,
		remote:  remoteClient,
		monitor: monitor,
		drainer: drainer,
	}
}

// =====================================================
// Reads (cache-aside)
// =====================================================

// FetchProfile returns a user's profile, remote-first. A successful
// remote read replaces the cached copy wholesale; on failure the cached
// copy is served. Errors only when remote and cache both miss.
func (f *Facade) FetchProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	if f.monitor.Online() {
		profile, err := f.remote.FetchProfile(ctx, uid)
		if err == nil {
			profile.Touch()
			if cacheErr := f.repo.CacheProfile(profile); cacheErr != nil {
				logging.Warn("Failed to cache fetched profile", map[string]interface{}{
					"uid": uid,
				})
			}
			return profile, nil
		}
		logging.Debug("Remote profile fetch failed, falling back to cache",
			map[string]interface{}{"uid": uid, "error": err.Error()})
	}

	cached, err := f.repo.GetProfile(uid)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, apperrors.New(apperrors.ErrOfflineCacheMiss, "profile not available offline")
	}
	return cached, nil
}

// FetchOwnProfile is FetchProfile for the device owner, backed by the
// dedicated single-record profile cache.
func (f *Facade) FetchOwnProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	if f.monitor.Online() {
		profile, err := f.remote.FetchProfile(ctx, uid)
		if err == nil {
			profile.Touch()
			if cacheErr := f.repo.CacheOwnProfile(profile); cacheErr != nil {
				logging.Warn("Failed to cache own profile", map[string]interface{}{
					"uid": uid,
				})
			}
			return profile, nil
		}
	}

	cached, err := f.repo.GetOwnProfile(uid)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, apperrors.New(apperrors.ErrOfflineCacheMiss, "profile not available offline")
	}
	return cached, nil
}

// SearchProfiles searches usernames by prefix, remote-first with the
// cached profile collection as fallback. A cache fallback may be empty
// or stale; that is not an error.
func (f *Facade) SearchProfiles(ctx context.Context, prefix string) ([]*models.UserProfile, error) {
	if f.monitor.Online() {
		profiles, err := f.remote.SearchProfilesByUsernamePrefix(ctx, prefix)
		if err == nil {
			if cacheErr := f.repo.CacheProfiles(profiles); cacheErr != nil {
				logging.Warn("Failed to cache search results", map[string]interface{}{
					"prefix": prefix,
				})
			}
			return profiles, nil
		}
	}
	return f.repo.SearchProfilesByPrefix(prefix)
}

// ListFriends returns a user's friend edges, remote-first. A successful
// remote read replaces the user's cached edge set wholesale.
func (f *Facade) ListFriends(ctx context.Context, userUID string) ([]*models.FriendEdge, error) {
	if f.monitor.Online() {
		edges, err := f.remote.ListFriendEdges(ctx, userUID)
		if err == nil {
			if cacheErr := f.repo.ReplaceFriendEdges(userUID, edges); cacheErr != nil {
				logging.Warn("Failed to cache friends list", map[string]interface{}{
					"uid": userUID,
				})
			}
			return edges, nil
		}
	}
	return f.repo.ListFriendEdges(userUID)
}

// ListIncomingRequests returns requests addressed to userUID,
// remote-first with wholesale cache replacement.
func (f *Facade) ListIncomingRequests(ctx context.Context, userUID string) ([]*models.FriendRequest, error) {
	if f.monitor.Online() {
		requests, err := f.remote.ListIncomingRequests(ctx, userUID)
		if err == nil {
			if cacheErr := f.repo.ReplaceIncomingRequests(userUID, requests); cacheErr != nil {
				logging.Warn("Failed to cache incoming requests", map[string]interface{}{
					"uid": userUID,
				})
			}
			return requests, nil
		}
	}
	return f.repo.ListIncomingRequests(userUID)
}

// ListMessages returns the cached conversation between two users.
func (f *Facade) ListMessages(uidA, uidB string) ([]*models.Message, error) {
	return f.repo.ListMessages(conversationID(uidA, uidB))
}

// =====================================================
// Writes (queue-or-call)
// =====================================================

// SendFriendRequest creates a friend request. Offline, the request is
// queued and a pending-status copy is cached optimistically.
func (f *Facade) SendFriendRequest(ctx context.Context, fromUID, toUID string) (*Result, error) {
	if f.monitor.Online() {
		created, err := f.remote.CreateFriendRequest(ctx, fromUID, toUID)
		if err == nil {
			return &Result{Success: true, RequestID: created.ID}, nil
		}
		return nil, f.enqueueAfterFailure(models.ActionSendFriendRequest,
			models.SendFriendRequestPayload{FromUID: fromUID, ToUID: toUID}, err)
	}

	if err := f.enqueue(models.ActionSendFriendRequest,
		models.SendFriendRequestPayload{FromUID: fromUID, ToUID: toUID}); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	optimistic := &models.FriendRequest{
		FromUID:   fromUID,
		ToUID:     toUID,
		Status:    models.RequestStatusPending,
		CreatedAt: now,
	}
	if err := f.repo.UpsertFriendRequest(optimistic); err != nil {
		logging.Warn("Failed to cache optimistic friend request", map[string]interface{}{
			"from": fromUID, "to": toUID,
		})
	}

	return &Result{Success: true, Offline: true}, nil
}

// RespondToFriendRequest accepts or rejects a request. Offline, the
// response is queued and the cached request is updated optimistically.
func (f *Facade) RespondToFriendRequest(ctx context.Context, requestID, response string) (*Result, error) {
	if response != models.RequestStatusAccepted && response != models.RequestStatusRejected {
		return nil, apperrors.New(apperrors.ErrInvalid, "response must be accepted or rejected")
	}

	if f.monitor.Online() {
		err := f.remote.UpdateFriendRequestStatus(ctx, requestID, response)
		if err == nil {
			return &Result{Success: true, RequestID: requestID}, nil
		}
		return nil, f.enqueueAfterFailure(models.ActionRespondToFriendRequest,
			models.RespondToFriendRequestPayload{RequestID: requestID, Response: response}, err)
	}

	if err := f.enqueue(models.ActionRespondToFriendRequest,
		models.RespondToFriendRequestPayload{RequestID: requestID, Response: response}); err != nil {
		return nil, err
	}

	if cached, err := f.repo.GetFriendRequest(requestID); err == nil && cached != nil {
		cached.Status = response
		cached.RespondedAt = time.Now().Unix()
		if err := f.repo.UpsertFriendRequest(cached); err != nil {
			logging.Warn("Failed to update cached friend request", map[string]interface{}{
				"id": requestID,
			})
		}
	}

	return &Result{Success: true, Offline: true}, nil
}

// AddFriend creates the symmetric friendship. Offline, both cache
// directions are inserted optimistically.
func (f *Facade) AddFriend(ctx context.Context, userUID, friendUID string) (*Result, error) {
	if f.monitor.Online() {
		err := f.remote.CreateFriendEdgePair(ctx, userUID, friendUID)
		if err == nil {
			return &Result{Success: true}, nil
		}
		return nil, f.enqueueAfterFailure(models.ActionAddFriend,
			models.AddFriendPayload{UserUID: userUID, FriendUID: friendUID}, err)
	}

	if err := f.enqueue(models.ActionAddFriend,
		models.AddFriendPayload{UserUID: userUID, FriendUID: friendUID}); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, edge := range []*models.FriendEdge{
		models.NewFriendEdge(userUID, friendUID, now),
		models.NewFriendEdge(friendUID, userUID, now),
	} {
		if err := f.repo.UpsertFriendEdge(edge); err != nil {
			logging.Warn("Failed to cache optimistic friend edge", map[string]interface{}{
				"key": edge.Key,
			})
		}
	}

	return &Result{Success: true, Offline: true}, nil
}

// RemoveFriend deletes the symmetric friendship. Both cached directions
// are removed regardless of path so no orphaned reverse edge survives.
func (f *Facade) RemoveFriend(ctx context.Context, userUID, friendUID string) (*Result, error) {
	result := &Result{Success: true}

	if f.monitor.Online() {
		if err := f.remote.DeleteFriendEdgePair(ctx, userUID, friendUID); err != nil {
			return nil, f.enqueueAfterFailure(models.ActionRemoveFriend,
				models.RemoveFriendPayload{UserUID: userUID, FriendUID: friendUID}, err)
		}
	} else {
		if err := f.enqueue(models.ActionRemoveFriend,
			models.RemoveFriendPayload{UserUID: userUID, FriendUID: friendUID}); err != nil {
			return nil, err
		}
		result.Offline = true
	}

	f.dropCachedEdges(userUID, friendUID)
	return result, nil
}

// UpdateProfile patches profile fields. Offline, the known fields are
// merged into the cached profile in memory and written back wholesale.
func (f *Facade) UpdateProfile(ctx context.Context, userUID string, updates map[string]interface{}) (*Result, error) {
	if f.monitor.Online() {
		updated, err := f.remote.PatchProfile(ctx, userUID, updates)
		if err == nil {
			updated.Touch()
			if cacheErr := f.repo.CacheProfile(updated); cacheErr != nil {
				logging.Warn("Failed to cache updated profile", map[string]interface{}{
					"uid": userUID,
				})
			}
			return &Result{Success: true}, nil
		}
		return nil, f.enqueueAfterFailure(models.ActionUpdateProfile,
			models.UpdateProfilePayload{UserUID: userUID, Updates: updates}, err)
	}

	if err := f.enqueue(models.ActionUpdateProfile,
		models.UpdateProfilePayload{UserUID: userUID, Updates: updates}); err != nil {
		return nil, err
	}

	f.applyProfileUpdates(userUID, updates)
	return &Result{Success: true, Offline: true}, nil
}

// SendNotification dispatches a push notification. Offline, delivery is
// queued; duplicate delivery on retry is an accepted trade-off.
func (f *Facade) SendNotification(ctx context.Context, targetUID string, n models.Notification) (*Result, error) {
	if f.monitor.Online() {
		err := f.remote.DispatchNotification(ctx, targetUID, n)
		if err == nil {
			return &Result{Success: true}, nil
		}
		return nil, f.enqueueAfterFailure(models.ActionSendNotification,
			models.SendNotificationPayload{TargetUID: targetUID, Notification: n}, err)
	}

	if err := f.enqueue(models.ActionSendNotification,
		models.SendNotificationPayload{TargetUID: targetUID, Notification: n}); err != nil {
		return nil, err
	}
	return &Result{Success: true, Offline: true}, nil
}

// SendWave sends a greeting: the message is cached locally and the
// notification is dispatched (or queued) to the friend's devices.
func (f *Facade) SendWave(ctx context.Context, fromUID, fromUsername, toUID, body string) (*Result, error) {
	now := time.Now().Unix()
	message := &models.Message{
		ID:             uuid.New().String(),
		FromUID:        fromUID,
		ToUID:          toUID,
		ConversationID: conversationID(fromUID, toUID),
		Body:           body,
		CreatedAt:      now,
	}
	if err := f.repo.UpsertMessage(message); err != nil {
		return nil, err
	}

	result, err := f.SendNotification(ctx, toUID, models.Notification{
		Title: fromUsername + " waved at you",
		Body:  body,
		Data: map[string]string{
			"type":       "wave",
			"from_uid":   fromUID,
			"message_id": message.ID,
		},
	})
	if err != nil {
		return nil, err
	}
	result.MessageID = message.ID
	return result, nil
}

// =====================================================
// Cache maintenance passthroughs
// =====================================================

// ClearCache resets cached entities; pending actions survive unless
// includePending is set.
func (f *Facade) ClearCache(includePending bool) error {
	return f.repo.ClearCache(!includePending)
}

// =====================================================
// Helpers
// =====================================================

// enqueue persists an action and nudges the engine.
func (f *Facade) enqueue(kind models.ActionKind, payload interface{}) error {
	action, err := models.NewPendingAction(kind, payload, time.Now().Unix())
	if err != nil {
		return err
	}
	if err := f.repo.EnqueueAction(action); err != nil {
		return err
	}
	logging.Debug("Queued pending action", map[string]interface{}{
		"seq": action.Seq, "kind": string(kind),
	})
	if f.drainer != nil {
		f.drainer.NotifyEnqueued()
	}
	return nil
}

// enqueueAfterFailure preserves a failed online write in the queue and
// re-raises the original error: the caller sees the failure but the
// action is not lost.
func (f *Facade) enqueueAfterFailure(kind models.ActionKind, payload interface{}, original error) error {
	if err := f.enqueue(kind, payload); err != nil {
		logging.Error("Failed to queue action after remote failure", err,
			map[string]interface{}{"kind": string(kind)})
	}
	return original
}

func (f *Facade) dropCachedEdges(userUID, friendUID string) {
	for _, key := range []string{
		models.EdgeKey(userUID, friendUID),
		models.EdgeKey(friendUID, userUID),
	} {
		if err := f.repo.DeleteFriendEdge(key); err != nil {
			logging.Warn("Failed to drop cached friend edge", map[string]interface{}{
				"key": key,
			})
		}
	}
}

// applyProfileUpdates merges recognized fields into the cached profile.
// Unknown fields are ignored; the remote record remains authoritative.
func (f *Facade) applyProfileUpdates(userUID string, updates map[string]interface{}) {
	cached, err := f.repo.GetProfile(userUID)
	if err != nil {
		return
	}
	if cached == nil {
		cached = &models.UserProfile{UID: userUID}
	}

	for key, value := range updates {
		switch key {
		case "username":
			if v, ok := value.(string); ok {
				cached.Username = v
			}
		case "avatar_emoji":
			if v, ok := value.(string); ok {
				cached.AvatarEmoji = v
			}
		case "notifications_enabled":
			if v, ok := value.(bool); ok {
				cached.NotificationsEnabled = v
			}
		case "wave_alerts_enabled":
			if v, ok := value.(bool); ok {
				cached.WaveAlertsEnabled = v
			}
		}
	}

	cached.Touch()
	if err := f.repo.CacheProfile(cached); err != nil {
		logging.Warn("Failed to cache optimistic profile update", map[string]interface{}{
			"uid": userUID,
		})
	}
}

// conversationID builds the stable conversation key for a user pair.
func conversationID(uidA, uidB string) string {
	if strings.Compare(uidA, uidB) > 0 {
		uidA, uidB = uidB, uidA
	}
	return uidA + "_" + uidB
}
