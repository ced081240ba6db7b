package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/singleflight"

	"github.com/example/live-chat/modules/activity"
	"github.com/example/live-chat/modules/identity"
	"github.com/example/live-chat/modules/store"
)

// ActivitySource provides activity counters for the REST API.
type ActivitySource interface {
	Snapshot() activity.Snapshot
}

// Options configures the HTTP server.
type Options struct {
	Port               string
	CORSAllowedOrigins string
	HistoryLimit       int
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	app      *fiber.App
	opts     Options
	engine   Engine
	identity identity.Provider
	history  store.HistoryPort
	activity ActivitySource
	loads    singleflight.Group
	logger   types.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*APIModule)(nil)
	_ mono.DependentModule       = (*APIModule)(nil)
	_ mono.HealthCheckableModule = (*APIModule)(nil)
)

// NewModule creates a new APIModule.
func NewModule(opts Options, engine Engine, provider identity.Provider, logger types.Logger) *APIModule {
	if opts.Port == "" {
		opts.Port = "3000"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	return &APIModule{
		opts:     opts,
		engine:   engine,
		identity: provider,
		logger:   logger,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"store"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "store":
		m.history = store.NewHistoryAdapter(container)
	}
}

// SetActivity sets the activity source (called from main.go).
func (m *APIModule) SetActivity(source ActivitySource) {
	m.activity = source
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.history == nil {
		return fmt.Errorf("history adapter dependency not set")
	}
	if m.engine == nil {
		return fmt.Errorf("chat engine dependency not set")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.app = m.newApp()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.opts.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "port", m.opts.Port)
	return nil
}

// Stop shuts down the Fiber HTTP server and ends open sessions.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server...")
	m.cancel()
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{"port": m.opts.Port}
	if m.engine != nil {
		details["connections"] = m.engine.Stats().Connections
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

// newApp builds the Fiber app with middleware and routes.
func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(m.loggerMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: m.opts.CORSAllowedOrigins,
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.setupRoutes(app)
	return app
}

// errorHandler handles errors globally.
func (m *APIModule) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	m.logger.Error("HTTP error", "code", code, "message", message, "error", err)

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// loggerMiddleware returns a Fiber middleware for request logging.
func (m *APIModule) loggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for WebSocket upgrade requests
		if strings.EqualFold(c.Get("Upgrade"), "websocket") {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		m.logger.Debug("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start).String())
		return err
	}
}
