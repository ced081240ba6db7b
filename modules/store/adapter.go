package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/live-chat/domain/chat"
)

// HistoryPort reads message history through the store module's services.
type HistoryPort interface {
	RecentMessages(ctx context.Context, limit int) ([]chat.Message, error)
}

// historyAdapter wraps the store ServiceContainer for type-safe calls.
type historyAdapter struct {
	container mono.ServiceContainer
}

// NewHistoryAdapter creates a HistoryPort backed by the store module's container.
func NewHistoryAdapter(container mono.ServiceContainer) HistoryPort {
	if container == nil {
		panic("history adapter requires non-nil ServiceContainer")
	}
	return &historyAdapter{container: container}
}

// RecentMessages calls the recent-messages service.
func (a *historyAdapter) RecentMessages(ctx context.Context, limit int) ([]chat.Message, error) {
	req := RecentMessagesRequest{Limit: limit}
	var resp RecentMessagesResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"recent-messages",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("recent-messages service call failed: %w", err)
	}
	return resp.Messages, nil
}
