package offline_test

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveline-app/core/internal/connectivity"
	"github.com/waveline-app/core/internal/db"
	apperrors "github.com/waveline-app/core/internal/errors"
	"github.com/waveline-app/core/internal/models"
	"github.com/waveline-app/core/internal/offline"
	"github.com/waveline-app/core/internal/remote"
	syncengine "github.com/waveline-app/core/internal/sync"
)

// stubRemote serves canned data and injectable failures.
type stubRemote struct {
	mu    gosync.Mutex
	calls []string

	profiles map[string]*models.UserProfile
	edges    map[string][]*models.FriendEdge
	requests map[string][]*models.FriendRequest

	failAll bool
}

func newStubRemote() *stubRemote {
	return &stubRemote{
		profiles: make(map[string]*models.UserProfile),
		edges:    make(map[string][]*models.FriendEdge),
		requests: make(map[string][]*models.FriendRequest),
	}
}

func (s *stubRemote) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubRemote) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubRemote) err() error {
	if s.failAll {
		return &remote.APIError{Code: "UNKNOWN", Message: "backend down", HTTPStatus: 503}
	}
	return nil
}

func (s *stubRemote) CreateFriendRequest(ctx context.Context, fromUID, toUID string) (*models.FriendRequest, error) {
	s.record("create_request")
	if err := s.err(); err != nil {
		return nil, err
	}
	return &models.FriendRequest{
		ID: "srv-req-1", FromUID: fromUID, ToUID: toUID,
		Status: models.RequestStatusPending, CreatedAt: time.Now().Unix(),
	}, nil
}

func (s *stubRemote) UpdateFriendRequestStatus(ctx context.Context, requestID, status string) error {
	s.record("update_status")
	return s.err()
}

func (s *stubRemote) CreateFriendEdgePair(ctx context.Context, userUID, friendUID string) error {
	s.record("create_edges")
	return s.err()
}

func (s *stubRemote) DeleteFriendEdgePair(ctx context.Context, userUID, friendUID string) error {
	s.record("delete_edges")
	return s.err()
}

func (s *stubRemote) PatchProfile(ctx context.Context, userUID string, fields map[string]interface{}) (*models.UserProfile, error) {
	s.record("patch_profile")
	if err := s.err(); err != nil {
		return nil, err
	}
	p := &models.UserProfile{UID: userUID}
	if v, ok := fields["username"].(string); ok {
		p.Username = v
	}
	return p, nil
}

func (s *stubRemote) DispatchNotification(ctx context.Context, targetUID string, n models.Notification) error {
	s.record("dispatch")
	return s.err()
}

func (s *stubRemote) FetchProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	s.record("fetch_profile")
	if err := s.err(); err != nil {
		return nil, err
	}
	p, ok := s.profiles[uid]
	if !ok {
		return nil, &remote.APIError{Code: remote.CodeNotFound, Message: "no such user", HTTPStatus: 404}
	}
	copied := *p
	return &copied, nil
}

func (s *stubRemote) SearchProfilesByUsernamePrefix(ctx context.Context, prefix string) ([]*models.UserProfile, error) {
	s.record("search")
	if err := s.err(); err != nil {
		return nil, err
	}
	var out []*models.UserProfile
	for _, p := range s.profiles {
		if len(p.Username) >= len(prefix) && p.Username[:len(prefix)] == prefix {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *stubRemote) ListFriendEdges(ctx context.Context, userUID string) ([]*models.FriendEdge, error) {
	s.record("list_edges")
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.edges[userUID], nil
}

func (s *stubRemote) ListIncomingRequests(ctx context.Context, userUID string) ([]*models.FriendRequest, error) {
	s.record("list_requests")
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.requests[userUID], nil
}

type fixture struct {
	facade  *offline.Facade
	engine  *syncengine.Engine
	repo    *db.Repository
	monitor *connectivity.ManualMonitor
	remote  *stubRemote
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	repo := db.NewRepository(database.DB)
	t.Cleanup(func() {
		repo.Close()
		database.Close()
	})

	stub := newStubRemote()
	monitor := connectivity.NewManualMonitor(online)
	engine := syncengine.NewEngine(repo, stub, monitor, syncengine.Config{MaxRetries: 3, RetryDelay: time.Hour})
	t.Cleanup(engine.Stop)

	return &fixture{
		facade:  offline.New(repo, stub, monitor, engine),
		engine:  engine,
		repo:    repo,
		monitor: monitor,
		remote:  stub,
	}
}

func pendingCount(t *testing.T, repo *db.Repository) int {
	t.Helper()
	count, err := repo.CountEligibleActions()
	require.NoError(t, err)
	return count
}

func TestFetchProfileRemoteFirstThenCache(t *testing.T) {
	fx := newFixture(t, true)
	fx.remote.profiles["bob"] = &models.UserProfile{UID: "bob", Username: "bob", AvatarEmoji: "🐋"}

	got, err := fx.facade.FetchProfile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)

	// Offline, the cached copy serves the read.
	fx.monitor.Set(false)
	got, err = fx.facade.FetchProfile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "🐋", got.AvatarEmoji)

	// Never-fetched user has no cache to fall back on.
	_, err = fx.facade.FetchProfile(context.Background(), "stranger")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrOfflineCacheMiss))
}

func TestListFriendsReplacesCacheWholesale(t *testing.T) {
	fx := newFixture(t, true)
	now := time.Now().Unix()

	// Stale local state: two friends cached.
	require.NoError(t, fx.repo.UpsertFriendEdge(models.NewFriendEdge("alice", "bob", now)))
	require.NoError(t, fx.repo.UpsertFriendEdge(models.NewFriendEdge("alice", "gone", now)))

	fx.remote.edges["alice"] = []*models.FriendEdge{models.NewFriendEdge("alice", "bob", now)}

	friends, err := fx.facade.ListFriends(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, friends, 1)

	cached, err := fx.repo.ListFriendEdges("alice")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "bob", cached[0].FriendUID)
}

func TestSendFriendRequestOfflineIsOptimistic(t *testing.T) {
	fx := newFixture(t, false)

	result, err := fx.facade.SendFriendRequest(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Offline)
	assert.Empty(t, fx.remote.callLog())

	assert.Equal(t, 1, pendingCount(t, fx.repo))

	cached, err := fx.repo.GetFriendRequest(models.EdgeKey("alice", "bob"))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, models.RequestStatusPending, cached.Status)
}

func TestOfflineRequestDrainsAfterReconnect(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.facade.SendFriendRequest(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, 1, pendingCount(t, fx.repo))

	fx.engine.Start()
	fx.monitor.Set(true)

	require.Eventually(t, func() bool {
		return pendingCount(t, fx.repo) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"create_request"}, fx.remote.callLog())

	// The optimistic cache row was swapped for the server record.
	optimistic, err := fx.repo.GetFriendRequest(models.EdgeKey("alice", "bob"))
	require.NoError(t, err)
	assert.Nil(t, optimistic)

	confirmed, err := fx.repo.GetFriendRequest("srv-req-1")
	require.NoError(t, err)
	require.NotNil(t, confirmed)
	assert.Equal(t, "alice", confirmed.FromUID)
}

func TestOnlineWriteFailureQueuesAndReturnsError(t *testing.T) {
	fx := newFixture(t, true)
	fx.remote.failAll = true

	_, err := fx.facade.AddFriend(context.Background(), "alice", "bob")
	require.Error(t, err)

	// The action survives in the queue for the next drain.
	actions, listErr := fx.repo.ListEligibleActions()
	require.NoError(t, listErr)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionAddFriend, actions[0].Kind)
}

func TestRemoveFriendDropsBothCachedDirections(t *testing.T) {
	fx := newFixture(t, false)
	now := time.Now().Unix()

	// Only one direction is cached locally; both must be gone after.
	require.NoError(t, fx.repo.UpsertFriendEdge(models.NewFriendEdge("alice", "bob", now)))

	result, err := fx.facade.RemoveFriend(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.True(t, result.Offline)

	for _, key := range []string{models.EdgeKey("alice", "bob"), models.EdgeKey("bob", "alice")} {
		edge, err := fx.repo.GetFriendEdge(key)
		require.NoError(t, err)
		assert.Nil(t, edge, "edge %s should be gone", key)
	}
	assert.Equal(t, 1, pendingCount(t, fx.repo))
}

func TestAddFriendOfflineCachesBothDirections(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.facade.AddFriend(context.Background(), "alice", "bob")
	require.NoError(t, err)

	for _, key := range []string{models.EdgeKey("alice", "bob"), models.EdgeKey("bob", "alice")} {
		edge, err := fx.repo.GetFriendEdge(key)
		require.NoError(t, err)
		assert.NotNil(t, edge, "edge %s should be cached", key)
	}
}

func TestUpdateProfileOfflineMergesIntoCache(t *testing.T) {
	fx := newFixture(t, false)

	require.NoError(t, fx.repo.CacheProfile(&models.UserProfile{
		UID: "alice", Username: "alice", AvatarEmoji: "🌊", WaveAlertsEnabled: true,
	}))

	result, err := fx.facade.UpdateProfile(context.Background(), "alice", map[string]interface{}{
		"username": "alice_v2",
	})
	require.NoError(t, err)
	assert.True(t, result.Offline)

	cached, err := fx.repo.GetProfile("alice")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "alice_v2", cached.Username)
	// Untouched fields survive the merge.
	assert.Equal(t, "🌊", cached.AvatarEmoji)
	assert.True(t, cached.WaveAlertsEnabled)
}

func TestRespondToFriendRequestValidatesResponse(t *testing.T) {
	fx := newFixture(t, true)

	_, err := fx.facade.RespondToFriendRequest(context.Background(), "r1", "maybe")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
	assert.Empty(t, fx.remote.callLog())
}

func TestSendWaveCachesMessageAndQueuesOffline(t *testing.T) {
	fx := newFixture(t, false)

	result, err := fx.facade.SendWave(context.Background(), "alice", "alice", "bob", "🌊")
	require.NoError(t, err)
	assert.True(t, result.Offline)
	assert.NotEmpty(t, result.MessageID)

	messages, err := fx.facade.ListMessages("alice", "bob")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "🌊", messages[0].Body)

	assert.Equal(t, 1, pendingCount(t, fx.repo))
}

func TestSearchProfilesFallsBackToCache(t *testing.T) {
	fx := newFixture(t, true)
	fx.remote.profiles["bob"] = &models.UserProfile{UID: "bob", Username: "bobby"}

	results, err := fx.facade.SearchProfiles(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, results, 1)

	fx.monitor.Set(false)
	results, err = fx.facade.SearchProfiles(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bobby", results[0].Username)

	// An unknown prefix offline is an empty result, not an error.
	results, err = fx.facade.SearchProfiles(context.Background(), "zz")
	require.NoError(t, err)
	assert.Empty(t, results)
}
