package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/live-chat/domain/chat"
)

// MaxHistoryLimit caps a single recent-messages request.
const MaxHistoryLimit = 500

// Options configures the store module.
type Options struct {
	DBPath        string
	Debug         bool
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Module owns the message database. It implements chat.MessageStore by
// delegating to the retrying repository once started, so it can be handed
// to other modules before the application starts.
type Module struct {
	opts   Options
	db     *gorm.DB
	store  atomic.Pointer[Retrying]
	logger types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ chat.MessageStore          = (*Module)(nil)
)

// NewModule creates a new store module.
func NewModule(opts Options, logger types.Logger) *Module {
	return &Module{
		opts:   opts,
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "store"
}

// Start opens the database and runs migrations.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Connecting to SQLite database", "path", m.opts.DBPath)

	logLevel := logger.Silent
	if m.opts.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(m.opts.DBPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return err
	}

	m.db = db
	m.store.Store(NewRetrying(NewRepository(db), m.opts.RetryAttempts, m.opts.RetryBackoff, m.logger))

	m.logger.Info("Store module started")
	return nil
}

// Stop closes the database connection.
func (m *Module) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	m.store.Store(nil)

	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	m.db = nil
	m.logger.Info("Database connection closed")
	return nil
}

// Health pings the database.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get sql.DB: %v", err),
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"driver": "sqlite",
			"path":   m.opts.DBPath,
		},
	}
}

// RegisterServices registers the recent-messages request-reply service.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, "recent-messages", json.Unmarshal, json.Marshal, m.recentMessages,
	); err != nil {
		return fmt.Errorf("failed to register recent-messages service: %w", err)
	}

	m.logger.Info("Registered services", "services", "services.store.recent-messages")
	return nil
}

func (m *Module) recentMessages(ctx context.Context, req RecentMessagesRequest, _ *mono.Msg) (RecentMessagesResponse, error) {
	limit := req.Limit
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	messages, err := m.LoadRecent(ctx, limit)
	if err != nil {
		return RecentMessagesResponse{}, err
	}
	return RecentMessagesResponse{Messages: messages, Total: len(messages)}, nil
}

func (m *Module) current() (*Retrying, error) {
	s := m.store.Load()
	if s == nil {
		return nil, fmt.Errorf("%w: store not started", ErrStorageUnavailable)
	}
	return s, nil
}

// LoadRecent implements chat.MessageStore.
func (m *Module) LoadRecent(ctx context.Context, limit int) ([]chat.Message, error) {
	s, err := m.current()
	if err != nil {
		return nil, err
	}
	return s.LoadRecent(ctx, limit)
}

// Append implements chat.MessageStore.
func (m *Module) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	s, err := m.current()
	if err != nil {
		return chat.Message{}, err
	}
	return s.Append(ctx, msg)
}

// ToggleLike implements chat.MessageStore.
func (m *Module) ToggleLike(ctx context.Context, messageID string, liker chat.Liker) (chat.Message, error) {
	s, err := m.current()
	if err != nil {
		return chat.Message{}, err
	}
	return s.ToggleLike(ctx, messageID, liker)
}

// EditContent implements chat.MessageStore.
func (m *Module) EditContent(ctx context.Context, messageID, content string) (chat.Message, bool, error) {
	s, err := m.current()
	if err != nil {
		return chat.Message{}, false, err
	}
	return s.EditContent(ctx, messageID, content)
}

// Delete implements chat.MessageStore.
func (m *Module) Delete(ctx context.Context, messageID string) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return s.Delete(ctx, messageID)
}
