// Package sync drains the pending-action queue against the remote
// platform with bounded retries and linear backoff.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/waveline-app/core/internal/connectivity"
	"github.com/waveline-app/core/internal/db"
	apperrors "github.com/waveline-app/core/internal/errors"
	"github.com/waveline-app/core/internal/logging"
	"github.com/waveline-app/core/internal/models"
	"github.com/waveline-app/core/internal/remote"

	gosync "sync"
)

// Config tunes retry behavior. Zero values fall back to the defaults
// below.
type Config struct {
	MaxRetries int           // attempts before an action is parked as failed
	RetryDelay time.Duration // backoff base; delay = RetryDelay * retryCount
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}
}

// EventHandler receives sync lifecycle notifications, e.g. for a
// WebSocket broadcaster. May be nil.
type EventHandler func(event string, fields map[string]interface{})

// Sync lifecycle event names.
const (
	EventDrainStarted   = "sync.started"
	EventDrainCompleted = "sync.completed"
	EventActionReplayed = "sync.action_replayed"
	EventActionRetried  = "sync.action_retried"
	EventActionFailed   = "sync.action_failed"
)

// Engine is the only authority that mutates queued actions. The facade
// enqueues; the engine replays, reschedules, or parks.
type Engine struct {
	repo    *db.Repository
	remote  remote.Client
	monitor connectivity.Monitor
	cfg     Config

	mu              gosync.Mutex
	syncInProgress  bool
	lastSyncAttempt time.Time
	events          EventHandler

	stopCh      chan struct{}
	stopped     gosync.Once
	unsubscribe func()
}

// NewEngine creates an Engine. Call Start to hook connectivity-driven
// drains; Drain can also be invoked directly.
func NewEngine(repo *db.Repository, remoteClient remote.Client, monitor connectivity.Monitor, cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Engine{
		repo:    repo,
		remote:  remoteClient,
		monitor: monitor,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// SetEventHandler sets the lifecycle event handler.
func (e *Engine) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = handler
}

// Start subscribes to connectivity flips: an offline-to-online
// transition triggers a drain.
func (e *Engine) Start() {
	e.unsubscribe = e.monitor.Subscribe(func(online bool) {
		if online {
			go e.Drain(context.Background())
		}
	})
}

// Stop unsubscribes from connectivity and cancels scheduled backoff
// re-drains. Queued actions stay durable; only backoff timing is lost.
func (e *Engine) Stop() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.stopped.Do(func() {
		close(e.stopCh)
	})
}

// NotifyEnqueued is called by the facade after queuing a new action
// while online. A drain already in flight will not see the new action;
// this schedules another pass.
func (e *Engine) NotifyEnqueued() {
	if e.monitor.Online() {
		go e.Drain(context.Background())
	}
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Replayed  int           `json:"replayed"`
	Retried   int           `json:"retried"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped"`
}

// Drain replays every currently eligible action once, oldest first,
// sequentially to preserve cross-action ordering. At most one drain
// runs at a time; a call while one is active is a no-op, not an error.
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	// Replaying while offline would only consume retry budget.
	if !e.monitor.Online() {
		return &DrainResult{Skipped: true}, nil
	}

	e.mu.Lock()
	if e.syncInProgress {
		e.mu.Unlock()
		return &DrainResult{Skipped: true}, nil
	}
	e.syncInProgress = true
	e.lastSyncAttempt = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncInProgress = false
		e.mu.Unlock()
	}()

	result := &DrainResult{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	actions, err := e.repo.ListEligibleActions()
	if err != nil {
		return result, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to list eligible actions", err)
	}
	if len(actions) == 0 {
		return result, nil
	}

	e.emit(EventDrainStarted, map[string]interface{}{"eligible": len(actions)})
	logging.Info("Draining pending actions", map[string]interface{}{
		"count": len(actions),
	})

	for _, action := range actions {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := e.replay(ctx, action); err != nil {
			e.recordFailure(action, err, result)
			continue
		}

		if err := e.repo.DeleteAction(action.Seq); err != nil {
			logging.Error("Failed to remove replayed action", err,
				map[string]interface{}{"seq": action.Seq})
			continue
		}
		result.Replayed++
		e.emit(EventActionReplayed, map[string]interface{}{
			"seq": action.Seq, "kind": string(action.Kind),
		})
	}

	e.emit(EventDrainCompleted, map[string]interface{}{
		"replayed": result.Replayed,
		"retried":  result.Retried,
		"failed":   result.Failed,
	})

	return result, nil
}

// replay executes one action against the remote platform. A nil return
// means the action is done, including failures classified as idempotent
// successes.
func (e *Engine) replay(ctx context.Context, action *models.PendingAction) error {
	switch action.Kind {
	case models.ActionSendFriendRequest:
		var p models.SendFriendRequestPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		created, err := e.remote.CreateFriendRequest(ctx, p.FromUID, p.ToUID)
		if remote.HasCode(err, remote.CodeDuplicateRequest) {
			// The request already reached the platform on an earlier
			// attempt; absorbing the duplicate keeps retries safe.
			logging.Debug("Duplicate friend request absorbed", map[string]interface{}{
				"from": p.FromUID, "to": p.ToUID,
			})
			return nil
		}
		if err != nil {
			return err
		}
		e.reconcileOptimisticRequest(p.FromUID, p.ToUID, created)
		return nil

	case models.ActionRespondToFriendRequest:
		var p models.RespondToFriendRequestPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		// Re-applying the same response is assumed safe.
		return e.remote.UpdateFriendRequestStatus(ctx, p.RequestID, p.Response)

	case models.ActionAddFriend:
		var p models.AddFriendPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		return e.remote.CreateFriendEdgePair(ctx, p.UserUID, p.FriendUID)

	case models.ActionRemoveFriend:
		var p models.RemoveFriendPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		// The platform treats deleting absent edges as success.
		return e.remote.DeleteFriendEdgePair(ctx, p.UserUID, p.FriendUID)

	case models.ActionUpdateProfile:
		var p models.UpdateProfilePayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		_, err := e.remote.PatchProfile(ctx, p.UserUID, p.Updates)
		return err

	case models.ActionSendNotification:
		var p models.SendNotificationPayload
		if err := action.DecodePayload(&p); err != nil {
			return err
		}
		// Retrying may cause duplicate delivery; accepted trade-off.
		return e.remote.DispatchNotification(ctx, p.TargetUID, p.Notification)
	}

	return apperrors.New(apperrors.ErrUnknownAction,
		fmt.Sprintf("no replay handler for action kind %q", action.Kind))
}

// reconcileOptimisticRequest swaps the client-optimistic cache row for
// the server record once a queued SendFriendRequest lands. Best-effort.
func (e *Engine) reconcileOptimisticRequest(fromUID, toUID string, created *models.FriendRequest) {
	if created == nil || created.ID == "" {
		return
	}
	if err := e.repo.DeleteFriendRequest(models.EdgeKey(fromUID, toUID)); err != nil {
		logging.Warn("Failed to drop optimistic friend request", map[string]interface{}{
			"from": fromUID, "to": toUID,
		})
	}
	if err := e.repo.UpsertFriendRequest(created); err != nil {
		logging.Warn("Failed to cache confirmed friend request", map[string]interface{}{
			"id": created.ID,
		})
	}
}

// recordFailure applies the retry state machine to a failed replay.
func (e *Engine) recordFailure(action *models.PendingAction, replayErr error, result *DrainResult) {
	action.RetryCount++
	action.LastError = replayErr.Error()

	if action.RetryCount >= e.cfg.MaxRetries {
		action.Status = models.ActionStatusFailed
		result.Failed++
		logging.Error("Action failed permanently", replayErr, map[string]interface{}{
			"seq":     action.Seq,
			"kind":    string(action.Kind),
			"retries": action.RetryCount,
		})
		e.emit(EventActionFailed, map[string]interface{}{
			"seq": action.Seq, "kind": string(action.Kind), "error": action.LastError,
		})
	} else {
		action.Status = models.ActionStatusRetry
		result.Retried++
		delay := e.cfg.RetryDelay * time.Duration(action.RetryCount)
		logging.Warn("Action replay failed, will retry", map[string]interface{}{
			"seq":       action.Seq,
			"kind":      string(action.Kind),
			"retry":     action.RetryCount,
			"delay_ms":  delay.Milliseconds(),
			"transient": remote.Transient(replayErr),
			"error":     action.LastError,
		})
		e.emit(EventActionRetried, map[string]interface{}{
			"seq": action.Seq, "kind": string(action.Kind), "retry": action.RetryCount,
		})
		e.scheduleRedrain(delay)
	}

	if err := e.repo.UpdateAction(action); err != nil {
		logging.Error("Failed to persist action state", err,
			map[string]interface{}{"seq": action.Seq})
	}
}

// scheduleRedrain re-invokes Drain after the backoff delay. The timer
// lives in memory only: a restart before it fires leaves the action in
// retry status for the next natural drain trigger.
func (e *Engine) scheduleRedrain(delay time.Duration) {
	go func() {
		select {
		case <-e.stopCh:
			return
		case <-time.After(delay):
			e.Drain(context.Background())
		}
	}()
}

// =====================================================
// Operator operations
// =====================================================

// RetryFailed resets every failed action to pending and drains. Returns
// the number of actions reset.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	count, err := e.repo.ResetFailedActions()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to reset failed actions", err)
	}
	if count > 0 {
		logging.Info("Reset failed actions for retry", map[string]interface{}{
			"count": count,
		})
		go e.Drain(ctx)
	}
	return count, nil
}

// ClearFailed permanently deletes failed actions. Returns the number
// removed.
func (e *Engine) ClearFailed() (int, error) {
	count, err := e.repo.DeleteFailedActions()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to clear failed actions", err)
	}
	return count, nil
}

// =====================================================
// Reporting
// =====================================================

// Status is a point-in-time snapshot of sync health. Counts are read
// fresh from the store on every call.
type Status struct {
	IsOnline        bool       `json:"is_online"`
	SyncInProgress  bool       `json:"sync_in_progress"`
	PendingCount    int        `json:"pending_count"`
	FailedCount     int        `json:"failed_count"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`
}

// Status reports current sync health.
func (e *Engine) Status() (*Status, error) {
	pending, err := e.repo.CountEligibleActions()
	if err != nil {
		return nil, err
	}
	failed, err := e.repo.CountActionsByStatus(models.ActionStatusFailed)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &Status{
		IsOnline:       e.monitor.Online(),
		SyncInProgress: e.syncInProgress,
		PendingCount:   pending,
		FailedCount:    failed,
	}
	if !e.lastSyncAttempt.IsZero() {
		t := e.lastSyncAttempt
		s.LastSyncAttempt = &t
	}
	return s, nil
}

func (e *Engine) emit(event string, fields map[string]interface{}) {
	e.mu.Lock()
	handler := e.events
	e.mu.Unlock()
	if handler != nil {
		handler(event, fields)
	}
}
