// Package models defines data structures for Parley conversations.
package models

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single chat message. Messages are immutable once appended;
// ordering within a conversation is insertion order.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix ms
}

// Conversation is the live conversation document held in the ephemeral store
// under a sliding-expiry key. Messages are append-only; UpdatedAt always
// reflects the most recent append.
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	OrganizationID string    `json:"organizationId"`
	Messages       []Message `json:"messages"`
	CreatedAt      int64     `json:"createdAt"` // unix ms
	UpdatedAt      int64     `json:"updatedAt"` // unix ms
}

// ConversationRecord is the durable archive of a conversation, written once
// per conversation id. It carries the full transcript plus derived metrics.
type ConversationRecord struct {
	ConversationID    string    `bson:"conversationId" json:"conversationId"`
	OrganizationID    string    `bson:"organizationId" json:"organizationId"`
	Messages          []Message `bson:"messages" json:"messages"`
	StartedAt         time.Time `bson:"startedAt" json:"startedAt"`
	EndedAt           time.Time `bson:"endedAt" json:"endedAt"`
	TotalMessages     int       `bson:"totalMessages" json:"totalMessages"`
	UserMessages      int       `bson:"userMessages" json:"userMessages"`
	AssistantMessages int       `bson:"assistantMessages" json:"assistantMessages"`
	SystemMessages    int       `bson:"systemMessages" json:"systemMessages"`
	DurationMs        int64     `bson:"durationMs" json:"durationMs"`
	FirstUserMessage  string    `bson:"firstUserMessage" json:"firstUserMessage"`
	LastUserMessage   string    `bson:"lastUserMessage" json:"lastUserMessage"`
	ArchivedAt        time.Time `bson:"archivedAt" json:"archivedAt"`
}

// NowMs returns the current time as unix milliseconds, the timestamp unit
// used throughout conversation documents.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
