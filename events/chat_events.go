package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageSentEvent is emitted after a message is stored and broadcast.
type MessageSentEvent struct {
	MessageID string    `json:"message_id"`
	Seq       uint64    `json:"seq"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageLikedEvent is emitted when a like is toggled on a message.
type MessageLikedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Liked     bool      `json:"liked"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageEditedEvent is emitted when a message's content changes.
type MessageEditedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageDeletedEvent is emitted when a message is removed.
type MessageDeletedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceChangedEvent is emitted when the online count or typing set changes.
type PresenceChangedEvent struct {
	Online    int       `json:"online"`
	Typing    []string  `json:"typing"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the chat domain.
var (
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"chat",
		"MessageSent",
		"v1",
	)

	MessageLikedV1 = helper.EventDefinition[MessageLikedEvent](
		"chat",
		"MessageLiked",
		"v1",
	)

	MessageEditedV1 = helper.EventDefinition[MessageEditedEvent](
		"chat",
		"MessageEdited",
		"v1",
	)

	MessageDeletedV1 = helper.EventDefinition[MessageDeletedEvent](
		"chat",
		"MessageDeleted",
		"v1",
	)

	PresenceChangedV1 = helper.EventDefinition[PresenceChangedEvent](
		"chat",
		"PresenceChanged",
		"v1",
	)
)
