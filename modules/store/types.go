package store

import "github.com/example/live-chat/domain/chat"

// RecentMessagesRequest asks for the newest messages of the room.
type RecentMessagesRequest struct {
	Limit int `json:"limit"`
}

// RecentMessagesResponse returns messages oldest first.
type RecentMessagesResponse struct {
	Messages []chat.Message `json:"messages"`
	Total    int            `json:"total"`
}
