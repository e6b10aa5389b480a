package models

import "fmt"

// FriendEdge is one direction of a cached friendship. The remote model
// stores friendship symmetrically as two edge records; the cache stores
// each direction independently and never infers the reverse.
type FriendEdge struct {
	Key       string `db:"key" json:"key"` // "<userUID>_<friendUID>"
	UserUID   string `db:"user_uid" json:"user_uid"`
	FriendUID string `db:"friend_uid" json:"friend_uid"`
	AddedAt   int64  `db:"added_at" json:"added_at"`
	CachedAt  int64  `db:"cached_at" json:"cached_at"`
}

// TableName returns the table name for FriendEdge.
func (FriendEdge) TableName() string {
	return "friend_edges"
}

// EdgeKey builds the deterministic composite key for an ordered pair.
// One key per ordered pair keeps the cache free of duplicate edges.
func EdgeKey(userUID, friendUID string) string {
	return fmt.Sprintf("%s_%s", userUID, friendUID)
}

// NewFriendEdge creates an edge with its key derived from the pair.
func NewFriendEdge(userUID, friendUID string, addedAt int64) *FriendEdge {
	return &FriendEdge{
		Key:       EdgeKey(userUID, friendUID),
		UserUID:   userUID,
		FriendUID: friendUID,
		AddedAt:   addedAt,
	}
}
