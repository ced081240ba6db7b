package chat

import (
	"context"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/live-chat/domain/chat"
	"github.com/example/live-chat/events"
)

// Module runs the chat broadcast engine and emits chat domain events.
type Module struct {
	engine   *Engine
	eventBus mono.EventBus
	logger   types.Logger
	cancel   context.CancelFunc
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Publisher                  = (*Module)(nil)
)

// NewModule creates a new chat module backed by store.
func NewModule(store domain.MessageStore, opts Options, logger types.Logger) *Module {
	m := &Module{logger: logger}
	m.engine = NewEngine(store, m, logger, opts)
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
		events.MessageLikedV1.ToBase(),
		events.MessageEditedV1.ToBase(),
		events.MessageDeletedV1.ToBase(),
		events.PresenceChangedV1.ToBase(),
	}
}

// Start launches the engine worker.
func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.engine.Run(ctx)
	m.logger.Info("Chat module started")
	return nil
}

// Stop shuts the engine down and closes every connection.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	stats := m.engine.Stats()
	m.cancel()

	select {
	case <-m.engine.Done():
	case <-ctx.Done():
		return fmt.Errorf("chat engine did not stop: %w", ctx.Err())
	}
	m.logger.Info("Chat module stopped", "connections", stats.Connections)
	return nil
}

// Health reports connection counts.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	stats := m.engine.Stats()
	return mono.HealthStatus{
		Healthy: m.cancel != nil,
		Message: "operational",
		Details: map[string]any{
			"connections":    stats.Connections,
			"online_users":   stats.OnlineUsers,
			"typing_users":   len(stats.TypingUsers),
			"messages_sent":  stats.MessagesSent,
			"slow_consumers": stats.SlowConsumers,
		},
	}
}

// Engine returns the broadcast engine for the API module to use.
func (m *Module) Engine() *Engine {
	return m.engine
}

// MessageSent publishes events.MessageSentV1.
func (m *Module) MessageSent(event events.MessageSentEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.MessageSentV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Error("Failed to publish MessageSent event", "messageID", event.MessageID, "error", err)
	}
}

// MessageLiked publishes events.MessageLikedV1.
func (m *Module) MessageLiked(event events.MessageLikedEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.MessageLikedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Error("Failed to publish MessageLiked event", "messageID", event.MessageID, "error", err)
	}
}

// MessageEdited publishes events.MessageEditedV1.
func (m *Module) MessageEdited(event events.MessageEditedEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.MessageEditedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Error("Failed to publish MessageEdited event", "messageID", event.MessageID, "error", err)
	}
}

// MessageDeleted publishes events.MessageDeletedV1.
func (m *Module) MessageDeleted(event events.MessageDeletedEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.MessageDeletedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Error("Failed to publish MessageDeleted event", "messageID", event.MessageID, "error", err)
	}
}

// PresenceChanged publishes events.PresenceChangedV1.
func (m *Module) PresenceChanged(event events.PresenceChangedEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.PresenceChangedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Error("Failed to publish PresenceChanged event", "online", event.Online, "error", err)
	}
}
