// Package activity aggregates chat domain events into counters.
package activity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/live-chat/events"
)

// Snapshot is a point-in-time copy of the activity counters.
type Snapshot struct {
	MessagesSent    uint64     `json:"messagesSent"`
	LikesAdded      uint64     `json:"likesAdded"`
	LikesRemoved    uint64     `json:"likesRemoved"`
	MessagesEdited  uint64     `json:"messagesEdited"`
	MessagesDeleted uint64     `json:"messagesDeleted"`
	PresenceChanges uint64     `json:"presenceChanges"`
	OnlineUsers     int        `json:"onlineUsers"`
	PeakOnline      int        `json:"peakOnline"`
	LastEventAt     *time.Time `json:"lastEventAt,omitempty"`
}

// Module consumes chat events and keeps running totals.
type Module struct {
	messagesSent    atomic.Uint64
	likesAdded      atomic.Uint64
	likesRemoved    atomic.Uint64
	messagesEdited  atomic.Uint64
	messagesDeleted atomic.Uint64
	presenceChanges atomic.Uint64

	mu          sync.RWMutex
	onlineUsers int
	peakOnline  int
	lastEventAt time.Time

	logger types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new activity module.
func NewModule(logger types.Logger) *Module {
	return &Module{logger: logger}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "activity"
}

// RegisterEventConsumers subscribes to every chat domain event.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(registry, events.MessageSentV1, m.handleMessageSent, m); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.MessageLikedV1, m.handleMessageLiked, m); err != nil {
		return fmt.Errorf("failed to register MessageLiked consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.MessageEditedV1, m.handleMessageEdited, m); err != nil {
		return fmt.Errorf("failed to register MessageEdited consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.MessageDeletedV1, m.handleMessageDeleted, m); err != nil {
		return fmt.Errorf("failed to register MessageDeleted consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.PresenceChangedV1, m.handlePresenceChanged, m); err != nil {
		return fmt.Errorf("failed to register PresenceChanged consumer: %w", err)
	}

	m.logger.Info("Registered event consumers",
		"events", "MessageSent, MessageLiked, MessageEdited, MessageDeleted, PresenceChanged")
	return nil
}

func (m *Module) handleMessageSent(_ context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	m.messagesSent.Add(1)
	m.touch(event.Timestamp)
	m.logger.Debug("Message sent", "messageID", event.MessageID, "userID", event.UserID)
	return nil
}

func (m *Module) handleMessageLiked(_ context.Context, event events.MessageLikedEvent, _ *mono.Msg) error {
	if event.Liked {
		m.likesAdded.Add(1)
	} else {
		m.likesRemoved.Add(1)
	}
	m.touch(event.Timestamp)
	return nil
}

func (m *Module) handleMessageEdited(_ context.Context, event events.MessageEditedEvent, _ *mono.Msg) error {
	m.messagesEdited.Add(1)
	m.touch(event.Timestamp)
	return nil
}

func (m *Module) handleMessageDeleted(_ context.Context, event events.MessageDeletedEvent, _ *mono.Msg) error {
	m.messagesDeleted.Add(1)
	m.touch(event.Timestamp)
	m.logger.Debug("Message deleted", "messageID", event.MessageID, "userID", event.UserID)
	return nil
}

func (m *Module) handlePresenceChanged(_ context.Context, event events.PresenceChangedEvent, _ *mono.Msg) error {
	m.presenceChanges.Add(1)

	m.mu.Lock()
	m.onlineUsers = event.Online
	if event.Online > m.peakOnline {
		m.peakOnline = event.Online
	}
	if event.Timestamp.After(m.lastEventAt) {
		m.lastEventAt = event.Timestamp
	}
	m.mu.Unlock()
	return nil
}

func (m *Module) touch(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts.After(m.lastEventAt) {
		m.lastEventAt = ts
	}
}

// Snapshot returns the current counters.
func (m *Module) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		MessagesSent:    m.messagesSent.Load(),
		LikesAdded:      m.likesAdded.Load(),
		LikesRemoved:    m.likesRemoved.Load(),
		MessagesEdited:  m.messagesEdited.Load(),
		MessagesDeleted: m.messagesDeleted.Load(),
		PresenceChanges: m.presenceChanges.Load(),
		OnlineUsers:     m.onlineUsers,
		PeakOnline:      m.peakOnline,
	}
	if !m.lastEventAt.IsZero() {
		last := m.lastEventAt
		s.LastEventAt = &last
	}
	return s
}

// Health reports the counters as details.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	s := m.Snapshot()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"messages_sent": s.MessagesSent,
			"online_users":  s.OnlineUsers,
			"peak_online":   s.PeakOnline,
		},
	}
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Activity module started")
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	s := m.Snapshot()
	m.logger.Info("Activity module stopped", "messagesSent", s.MessagesSent, "peakOnline", s.PeakOnline)
	return nil
}
