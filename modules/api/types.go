package api

import (
	"time"

	domain "github.com/example/live-chat/domain/chat"
)

// HistoryResponse is the API response for message history.
type HistoryResponse struct {
	Messages []domain.Message `json:"messages"`
	Total    int              `json:"total"`
}

// PresenceResponse is the API response for current presence.
type PresenceResponse struct {
	OnlineUsers int      `json:"onlineUsers"`
	TypingUsers []string `json:"typingUsers"`
	Connections int      `json:"connections"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}
