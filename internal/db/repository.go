// Package db provides CRUD repository operations for the Waveline cache
// and pending-action queue.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/waveline-app/core/internal/models"
)

// Repository provides typed operations over the six local collections.
// Every cache write replaces the whole row; callers merge in memory
// before writing.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Profile Operations
// =====================================================

const profileColumns = "uid, username, avatar_emoji, last_active, notifications_enabled, wave_alerts_enabled, cached_at"

// CacheProfile upserts a profile into the shared profile cache.
func (r *Repository) CacheProfile(p *models.UserProfile) error {
	return r.cacheProfileInto("profiles", p)
}

// CacheOwnProfile upserts the device owner's profile into the dedicated
// single-record-per-user cache.
func (r *Repository) CacheOwnProfile(p *models.UserProfile) error {
	return r.cacheProfileInto("profile_cache", p)
}

func (r *Repository) cacheProfileInto(table string, p *models.UserProfile) error {
	if p.CachedAt == 0 {
		p.CachedAt = time.Now().Unix()
	}
	query := fmt.Sprintf(`
	INSERT OR REPLACE INTO %s (%s)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, table, profileColumns)
	_, err := r.db.Exec(query, p.UID, p.Username, p.AvatarEmoji, p.LastActive,
		p.NotificationsEnabled, p.WaveAlertsEnabled, p.CachedAt)
	return err
}

// GetProfile retrieves a cached profile by UID. Returns nil with no
// error when the profile is not cached.
func (r *Repository) GetProfile(uid string) (*models.UserProfile, error) {
	return r.getProfileFrom("profiles", uid)
}

// GetOwnProfile retrieves the owner's cached profile by UID.
func (r *Repository) GetOwnProfile(uid string) (*models.UserProfile, error) {
	return r.getProfileFrom("profile_cache", uid)
}

func (r *Repository) getProfileFrom(table, uid string) (*models.UserProfile, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE uid = ?", profileColumns, table)
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var p models.UserProfile
	err = stmt.QueryRow(uid).Scan(&p.UID, &p.Username, &p.AvatarEmoji, &p.LastActive,
		&p.NotificationsEnabled, &p.WaveAlertsEnabled, &p.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CacheProfiles upserts a batch of profiles, e.g. a search result page.
func (r *Repository) CacheProfiles(profiles []*models.UserProfile) error {
	for _, p := range profiles {
		if err := r.CacheProfile(p); err != nil {
			return err
		}
	}
	return nil
}

// SearchProfilesByPrefix returns cached profiles whose username starts
// with prefix. Used as the offline fallback for remote username search.
func (r *Repository) SearchProfilesByPrefix(prefix string) ([]*models.UserProfile, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM profiles WHERE username LIKE ? ESCAPE '\\' ORDER BY username",
		profileColumns)
	rows, err := r.db.Query(query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.UserProfile
	for rows.Next() {
		var p models.UserProfile
		if err := rows.Scan(&p.UID, &p.Username, &p.AvatarEmoji, &p.LastActive,
			&p.NotificationsEnabled, &p.WaveAlertsEnabled, &p.CachedAt); err != nil {
			return nil, err
		}
		results = append(results, &p)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

// =====================================================
// Friend Edge Operations
// =====================================================

const edgeColumns = "key, user_uid, friend_uid, added_at, cached_at"

// UpsertFriendEdge caches one direction of a friendship. Re-caching the
// same ordered pair overwrites rather than duplicates.
func (r *Repository) UpsertFriendEdge(e *models.FriendEdge) error {
	if e.Key == "" {
		e.Key = models.EdgeKey(e.UserUID, e.FriendUID)
	}
	if e.CachedAt == 0 {
		e.CachedAt = time.Now().Unix()
	}
	query := fmt.Sprintf("INSERT OR REPLACE INTO friend_edges (%s) VALUES (?, ?, ?, ?, ?)", edgeColumns)
	_, err := r.db.Exec(query, e.Key, e.UserUID, e.FriendUID, e.AddedAt, e.CachedAt)
	return err
}

// GetFriendEdge retrieves an edge by its composite key, nil on miss.
func (r *Repository) GetFriendEdge(key string) (*models.FriendEdge, error) {
	stmt, err := r.PrepareStmt(fmt.Sprintf("SELECT %s FROM friend_edges WHERE key = ?", edgeColumns))
	if err != nil {
		return nil, err
	}

	var e models.FriendEdge
	err = stmt.QueryRow(key).Scan(&e.Key, &e.UserUID, &e.FriendUID, &e.AddedAt, &e.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListFriendEdges returns all cached edges owned by userUID.
func (r *Repository) ListFriendEdges(userUID string) ([]*models.FriendEdge, error) {
	query := fmt.Sprintf("SELECT %s FROM friend_edges WHERE user_uid = ?", edgeColumns)
	rows, err := r.db.Query(query, userUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*models.FriendEdge
	for rows.Next() {
		var e models.FriendEdge
		if err := rows.Scan(&e.Key, &e.UserUID, &e.FriendUID, &e.AddedAt, &e.CachedAt); err != nil {
			return nil, err
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// DeleteFriendEdge removes an edge by key. Deleting an absent key is a
// no-op success.
func (r *Repository) DeleteFriendEdge(key string) error {
	_, err := r.db.Exec("DELETE FROM friend_edges WHERE key = ?", key)
	return err
}

// ReplaceFriendEdges replaces userUID's cached friends list wholesale
// with the given remote result.
func (r *Repository) ReplaceFriendEdges(userUID string, edges []*models.FriendEdge) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM friend_edges WHERE user_uid = ?", userUID); err != nil {
		return err
	}

	now := time.Now().Unix()
	query := fmt.Sprintf("INSERT OR REPLACE INTO friend_edges (%s) VALUES (?, ?, ?, ?, ?)", edgeColumns)
	for _, e := range edges {
		if e.Key == "" {
			e.Key = models.EdgeKey(e.UserUID, e.FriendUID)
		}
		if e.CachedAt == 0 {
			e.CachedAt = now
		}
		if _, err := tx.Exec(query, e.Key, e.UserUID, e.FriendUID, e.AddedAt, e.CachedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// =====================================================
// Friend Request Operations
// =====================================================

const requestColumns = "key, id, from_uid, to_uid, status, created_at, responded_at, cached_at"

// UpsertFriendRequest caches a friend request keyed by server ID or the
// client-optimistic composite.
func (r *Repository) UpsertFriendRequest(req *models.FriendRequest) error {
	if req.CachedAt == 0 {
		req.CachedAt = time.Now().Unix()
	}
	query := fmt.Sprintf("INSERT OR REPLACE INTO friend_requests (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", requestColumns)
	_, err := r.db.Exec(query, req.Key(), req.ID, req.FromUID, req.ToUID,
		req.Status, req.CreatedAt, req.RespondedAt, req.CachedAt)
	return err
}

// GetFriendRequest retrieves a request by cache key, nil on miss.
func (r *Repository) GetFriendRequest(key string) (*models.FriendRequest, error) {
	stmt, err := r.PrepareStmt(fmt.Sprintf("SELECT %s FROM friend_requests WHERE key = ?", requestColumns))
	if err != nil {
		return nil, err
	}

	var req models.FriendRequest
	var cacheKey string
	err = stmt.QueryRow(key).Scan(&cacheKey, &req.ID, &req.FromUID, &req.ToUID,
		&req.Status, &req.CreatedAt, &req.RespondedAt, &req.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListIncomingRequests returns all cached requests addressed to toUID.
func (r *Repository) ListIncomingRequests(toUID string) ([]*models.FriendRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM friend_requests WHERE to_uid = ?", requestColumns)
	rows, err := r.db.Query(query, toUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*models.FriendRequest
	for rows.Next() {
		var req models.FriendRequest
		var cacheKey string
		if err := rows.Scan(&cacheKey, &req.ID, &req.FromUID, &req.ToUID,
			&req.Status, &req.CreatedAt, &req.RespondedAt, &req.CachedAt); err != nil {
			return nil, err
		}
		requests = append(requests, &req)
	}
	return requests, rows.Err()
}

// DeleteFriendRequest removes a request by key. No-op when absent.
func (r *Repository) DeleteFriendRequest(key string) error {
	_, err := r.db.Exec("DELETE FROM friend_requests WHERE key = ?", key)
	return err
}

// ReplaceIncomingRequests replaces toUID's cached incoming requests
// wholesale with the given remote result.
func (r *Repository) ReplaceIncomingRequests(toUID string, requests []*models.FriendRequest) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM friend_requests WHERE to_uid = ?", toUID); err != nil {
		return err
	}

	now := time.Now().Unix()
	query := fmt.Sprintf("INSERT OR REPLACE INTO friend_requests (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", requestColumns)
	for _, req := range requests {
		if req.CachedAt == 0 {
			req.CachedAt = now
		}
		if _, err := tx.Exec(query, req.Key(), req.ID, req.FromUID, req.ToUID,
			req.Status, req.CreatedAt, req.RespondedAt, req.CachedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// =====================================================
// Message Operations
// =====================================================

const messageColumns = "key, id, from_uid, to_uid, conversation_id, body, created_at, read"

// UpsertMessage caches a message.
func (r *Repository) UpsertMessage(m *models.Message) error {
	query := fmt.Sprintf("INSERT OR REPLACE INTO messages (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", messageColumns)
	_, err := r.db.Exec(query, m.Key(), m.ID, m.FromUID, m.ToUID,
		m.ConversationID, m.Body, m.CreatedAt, m.Read)
	return err
}

// GetMessage retrieves a message by cache key, nil on miss.
func (r *Repository) GetMessage(key string) (*models.Message, error) {
	stmt, err := r.PrepareStmt(fmt.Sprintf("SELECT %s FROM messages WHERE key = ?", messageColumns))
	if err != nil {
		return nil, err
	}

	var m models.Message
	var cacheKey string
	err = stmt.QueryRow(key).Scan(&cacheKey, &m.ID, &m.FromUID, &m.ToUID,
		&m.ConversationID, &m.Body, &m.CreatedAt, &m.Read)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns cached messages in a conversation, oldest first.
func (r *Repository) ListMessages(conversationID string) ([]*models.Message, error) {
	query := fmt.Sprintf("SELECT %s FROM messages WHERE conversation_id = ? ORDER BY created_at", messageColumns)
	rows, err := r.db.Query(query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		var cacheKey string
		if err := rows.Scan(&cacheKey, &m.ID, &m.FromUID, &m.ToUID,
			&m.ConversationID, &m.Body, &m.CreatedAt, &m.Read); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// =====================================================
// Pending Action Queue Operations
// =====================================================

const actionColumns = "seq, kind, payload, enqueued_at, status, retry_count, last_error"

// EnqueueAction persists a pending action and assigns its sequence
// number. The sequence is the queue's ordering authority.
func (r *Repository) EnqueueAction(a *models.PendingAction) error {
	if a.EnqueuedAt == 0 {
		a.EnqueuedAt = time.Now().Unix()
	}
	if a.Status == "" {
		a.Status = models.ActionStatusPending
	}
	res, err := r.db.Exec(`
	INSERT INTO pending_actions (kind, payload, enqueued_at, status, retry_count, last_error)
	VALUES (?, ?, ?, ?, ?, ?)
	`, a.Kind, string(a.Payload), a.EnqueuedAt, a.Status, a.RetryCount, a.LastError)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.Seq = seq
	return nil
}

// GetAction retrieves an action by sequence number, nil on miss.
func (r *Repository) GetAction(seq int64) (*models.PendingAction, error) {
	stmt, err := r.PrepareStmt(fmt.Sprintf("SELECT %s FROM pending_actions WHERE seq = ?", actionColumns))
	if err != nil {
		return nil, err
	}

	a, err := scanAction(stmt.QueryRow(seq))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*models.PendingAction, error) {
	var a models.PendingAction
	var payload string
	if err := row.Scan(&a.Seq, &a.Kind, &payload, &a.EnqueuedAt,
		&a.Status, &a.RetryCount, &a.LastError); err != nil {
		return nil, err
	}
	a.Payload = []byte(payload)
	return &a, nil
}

// ListEligibleActions returns all pending and retry actions in enqueue
// order. The engine treats the two statuses identically when selecting
// work.
func (r *Repository) ListEligibleActions() ([]*models.PendingAction, error) {
	return r.listActionsWhere("status IN ('pending', 'retry')")
}

// ListActionsByStatus returns all actions with the given status in
// enqueue order.
func (r *Repository) ListActionsByStatus(status string) ([]*models.PendingAction, error) {
	return r.listActionsWhere("status = ?", status)
}

func (r *Repository) listActionsWhere(where string, args ...interface{}) ([]*models.PendingAction, error) {
	query := fmt.Sprintf("SELECT %s FROM pending_actions WHERE %s ORDER BY seq", actionColumns, where)
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*models.PendingAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// UpdateAction persists status, retry count, and last error for an
// action. Only the sync engine mutates queued actions.
func (r *Repository) UpdateAction(a *models.PendingAction) error {
	_, err := r.db.Exec(`
	UPDATE pending_actions SET status = ?, retry_count = ?, last_error = ? WHERE seq = ?
	`, a.Status, a.RetryCount, a.LastError, a.Seq)
	return err
}

// DeleteAction removes an action by sequence number. No-op when absent.
func (r *Repository) DeleteAction(seq int64) error {
	_, err := r.db.Exec("DELETE FROM pending_actions WHERE seq = ?", seq)
	return err
}

// CountActionsByStatus counts actions with the given status. Computed
// fresh on each call; the queue is expected to stay small.
func (r *Repository) CountActionsByStatus(status string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM pending_actions WHERE status = ?", status).Scan(&count)
	return count, err
}

// CountEligibleActions counts pending plus retry actions.
func (r *Repository) CountEligibleActions() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM pending_actions WHERE status IN ('pending', 'retry')").Scan(&count)
	return count, err
}

// ResetFailedActions moves every failed action back to pending with a
// fresh retry budget. Returns the number of actions reset.
func (r *Repository) ResetFailedActions() (int, error) {
	res, err := r.db.Exec(`
	UPDATE pending_actions SET status = 'pending', retry_count = 0, last_error = ''
	WHERE status = 'failed'
	`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteFailedActions permanently removes failed actions. Returns the
// number deleted.
func (r *Repository) DeleteFailedActions() (int, error) {
	res, err := r.db.Exec("DELETE FROM pending_actions WHERE status = 'failed'")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =====================================================
// Cache Maintenance
// =====================================================

// ClearCache truncates the cached entity collections. When
// preservePending is true (the default policy) the pending-action queue
// survives, so a user-triggered cache reset never loses unsynced work.
func (r *Repository) ClearCache(preservePending bool) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tables := []string{"profiles", "profile_cache", "friend_edges", "friend_requests", "messages"}
	if !preservePending {
		tables = append(tables, "pending_actions")
	}
	for _, table := range tables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}

	return tx.Commit()
}
