package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	domain "github.com/example/live-chat/domain/chat"
)

// Validation constants
const (
	MaxMessageLength   = 5000
	MaxMessageIDLength = 64
)

// NormalizeContent trims content and checks it is acceptable as a message body.
func NormalizeContent(content string) (string, error) {
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: message contains invalid characters", domain.ErrInvalidInput)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", fmt.Errorf("%w: message exceeds maximum length", domain.ErrInvalidInput)
	}
	return content, nil
}

// ValidateMessageID checks a client-supplied message id.
func ValidateMessageID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrInvalidInput)
	}
	if len(id) > MaxMessageIDLength {
		return fmt.Errorf("%w: message id too long", domain.ErrInvalidInput)
	}
	return nil
}

// Stats is a point-in-time view of the engine's shared state.
type Stats struct {
	Connections   int      `json:"connections"`
	OnlineUsers   int      `json:"onlineUsers"`
	TypingUsers   []string `json:"typingUsers"`
	MessagesSent  uint64   `json:"messagesSent"`
	SlowConsumers uint64   `json:"slowConsumers"`
}
