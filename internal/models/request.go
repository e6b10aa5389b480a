package models

// FriendRequest status values.
const (
	RequestStatusPending  = "pending"
	RequestStatusAccepted = "accepted"
	RequestStatusRejected = "rejected"
)

// FriendRequest is a cached friend request. When the request was created
// offline no server identifier exists yet; the cache key falls back to the
// "<fromUID>_<toUID>" composite until a real ID is known.
type FriendRequest struct {
	ID          string `db:"id" json:"id"`
	FromUID     string `db:"from_uid" json:"from_uid"`
	ToUID       string `db:"to_uid" json:"to_uid"`
	Status      string `db:"status" json:"status"` // pending, accepted, rejected
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	RespondedAt int64  `db:"responded_at" json:"responded_at"`
	CachedAt    int64  `db:"cached_at" json:"cached_at"`
}

// TableName returns the table name for FriendRequest.
func (FriendRequest) TableName() string {
	return "friend_requests"
}

// Key returns the cache key: the server ID when known, otherwise the
// client-optimistic composite.
func (r *FriendRequest) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return EdgeKey(r.FromUID, r.ToUID)
}
