package models

import "fmt"

// Message is a cached greeting message.
type Message struct {
	ID             string `db:"id" json:"id"`
	FromUID        string `db:"from_uid" json:"from_uid"`
	ToUID          string `db:"to_uid" json:"to_uid"`
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	Body           string `db:"body" json:"body"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
	Read           bool   `db:"read" json:"read"`
}

// TableName returns the table name for Message.
func (Message) TableName() string {
	return "messages"
}

// Key returns the cache key: the server ID when known, otherwise a
// sender/timestamp composite for messages composed offline.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return fmt.Sprintf("%s_%d", m.FromUID, m.CreatedAt)
}
