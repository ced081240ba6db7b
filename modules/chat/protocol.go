package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/example/live-chat/domain/chat"
)

// Inbound action names.
const (
	ActionChatMessage   = "chat message"
	ActionTyping        = "typing"
	ActionLikeMessage   = "like message"
	ActionDeleteMessage = "delete message"
	ActionEditMessage   = "edit message"
)

// Outbound event names.
const (
	EventInitialMessages = "initial messages"
	EventChatMessage     = "chat message"
	EventOnlineUsers     = "online users"
	EventTypingUsers     = "typing users"
	EventMessageLiked    = "message liked"
	EventMessageDeleted  = "message deleted"
	EventMessageEdited   = "message edited"
	EventError           = "error"
)

// Error notice codes sent to the acting connection only.
const (
	CodeInvalidInput       = "invalid_input"
	CodeRateLimited        = "rate_limited"
	CodeStorageUnavailable = "storage_unavailable"
	CodeInternal           = "internal_error"
)

// Envelope is the wire frame for both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessagePayload is the data of a "chat message" action.
type SendMessagePayload struct {
	Content string `json:"content"`
}

// TypingPayload is the data of a "typing" action.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// MessageRefPayload is the data of "like message" and "delete message".
// Older clients send the id as msgId.
type MessageRefPayload struct {
	MessageID string `json:"messageId"`
	MsgID     string `json:"msgId,omitempty"`
}

// Ref returns the referenced message id.
func (p MessageRefPayload) Ref() string {
	if p.MessageID != "" {
		return p.MessageID
	}
	return p.MsgID
}

// EditMessagePayload is the data of an "edit message" action.
type EditMessagePayload struct {
	MessageID  string `json:"messageId"`
	MsgID      string `json:"msgId,omitempty"`
	NewContent string `json:"newContent"`
}

// Ref returns the edited message id.
func (p EditMessagePayload) Ref() string {
	if p.MessageID != "" {
		return p.MessageID
	}
	return p.MsgID
}

// MessageLikedPayload tells clients who toggled a like and the resulting likers.
type MessageLikedPayload struct {
	MessageID string         `json:"messageId"`
	UserID    string         `json:"userId"`
	Username  string         `json:"username"`
	Avatar    domain.Avatar  `json:"avatar"`
	Liked     bool           `json:"liked"`
	Likers    []domain.Liker `json:"likers"`
}

// ErrorPayload is the data of an "error" notice.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeFrame marshals an outbound envelope.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %q payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %q envelope: %w", event, err)
	}
	return frame, nil
}

// NoticeFor maps an engine error to the notice sent to the acting connection.
func NoticeFor(err error) ErrorPayload {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return ErrorPayload{Code: CodeInvalidInput, Message: err.Error()}
	case errors.Is(err, domain.ErrStorageUnavailable):
		return ErrorPayload{Code: CodeStorageUnavailable, Message: "message storage is temporarily unavailable"}
	default:
		return ErrorPayload{Code: CodeInternal, Message: "internal error"}
	}
}
