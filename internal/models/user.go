// Package models provides data model definitions for the Waveline core.
package models

import "time"

// UserProfile is a locally cached copy of a remote user profile.
// The authoritative record lives in the remote platform; cache writes
// replace the whole row (last-writer-wins, no field merge).
type UserProfile struct {
	UID                  string `db:"uid" json:"uid"`
	Username             string `db:"username" json:"username"`
	AvatarEmoji          string `db:"avatar_emoji" json:"avatar_emoji"`
	LastActive           int64  `db:"last_active" json:"last_active"`
	NotificationsEnabled bool   `db:"notifications_enabled" json:"notifications_enabled"`
	WaveAlertsEnabled    bool   `db:"wave_alerts_enabled" json:"wave_alerts_enabled"`
	CachedAt             int64  `db:"cached_at" json:"cached_at"`
}

// TableName returns the table name for UserProfile.
func (UserProfile) TableName() string {
	return "profiles"
}

// LastActiveTime returns LastActive as time.Time.
func (p *UserProfile) LastActiveTime() time.Time {
	return time.Unix(p.LastActive, 0)
}

// Touch updates the cache timestamp.
func (p *UserProfile) Touch() {
	p.CachedAt = time.Now().Unix()
}
