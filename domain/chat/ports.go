package chat

import "context"

// MessageStore is the durable persistence port used by the broadcast engine.
type MessageStore interface {
	// LoadRecent returns up to limit messages, oldest first.
	LoadRecent(ctx context.Context, limit int) ([]Message, error)
	// Append persists msg, assigning ID, Seq and CreatedAt when unset.
	Append(ctx context.Context, msg Message) (Message, error)
	// ToggleLike adds the liker when absent and removes it when present.
	ToggleLike(ctx context.Context, messageID string, liker Liker) (Message, error)
	// EditContent replaces the content. changed is false when content is unchanged.
	EditContent(ctx context.Context, messageID, content string) (msg Message, changed bool, err error)
	// Delete removes the message permanently.
	Delete(ctx context.Context, messageID string) error
}
