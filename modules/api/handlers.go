package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	domain "github.com/example/live-chat/domain/chat"
	"github.com/example/live-chat/modules/identity"
	"github.com/example/live-chat/modules/store"
)

// identityKey is the Fiber locals key holding the authenticated identity.
const identityKey = "identity"

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	// Health check
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint: authenticate, then require an upgrade.
	app.Use("/ws", m.authenticate, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket))

	// REST API v1
	api := app.Group("/api/v1")
	api.Get("/messages", m.listMessages)
	api.Get("/presence", m.getPresence)
	api.Get("/activity", m.getActivity)
}

// authenticate resolves the bearer token to an identity before the upgrade.
func (m *APIModule) authenticate(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Token is required",
		})
	}

	id, err := m.identity.ResolveIdentity(c.UserContext(), token)
	if err != nil {
		message := "Invalid token"
		if errors.Is(err, identity.ErrExpiredToken) {
			message = "Token has expired"
		}
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: message,
		})
	}

	c.Locals(identityKey, id)
	return c.Next()
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	stats := m.engine.Stats()
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Details: map[string]any{
			"module":       "api",
			"connections":  stats.Connections,
			"online_users": stats.OnlineUsers,
		},
	})
}

// listMessages handles GET /api/v1/messages.
func (m *APIModule) listMessages(c *fiber.Ctx) error {
	limit := m.opts.HistoryLimit
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "validation_error",
				Message: "limit must be a positive integer",
			})
		}
		limit = min(parsed, store.MaxHistoryLimit)
	}

	// Concurrent requests for the same limit share one store round trip.
	v, err, _ := m.loads.Do(strconv.Itoa(limit), func() (any, error) {
		return m.history.RecentMessages(c.UserContext(), limit)
	})
	if err != nil {
		m.logger.Warn("Failed to load history", "limit", limit, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "storage_unavailable",
			Message: "Message history is temporarily unavailable",
		})
	}

	messages := v.([]domain.Message)
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(HistoryResponse{
		Messages: messages,
		Total:    len(messages),
	})
}

// getPresence handles GET /api/v1/presence.
func (m *APIModule) getPresence(c *fiber.Ctx) error {
	stats := m.engine.Stats()
	typing := stats.TypingUsers
	if typing == nil {
		typing = []string{}
	}
	return c.JSON(PresenceResponse{
		OnlineUsers: stats.OnlineUsers,
		TypingUsers: typing,
		Connections: stats.Connections,
	})
}

// getActivity handles GET /api/v1/activity.
func (m *APIModule) getActivity(c *fiber.Ctx) error {
	if m.activity == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "unavailable",
			Message: "Activity tracking is not enabled",
		})
	}
	return c.JSON(m.activity.Snapshot())
}

// handleWebSocket handles WebSocket connections at /ws.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	id, ok := c.Locals(identityKey).(domain.Identity)
	if !ok {
		m.logger.Error("WebSocket connection without identity")
		_ = c.Close()
		return
	}

	conn, err := m.engine.Connect(m.ctx, id)
	if err != nil {
		m.logger.Error("Failed to register connection", "userID", id.UserID, "error", err)
		_ = c.Close()
		return
	}

	m.logger.Info("WebSocket connected", "connID", conn.ID(), "userID", id.UserID)
	newSession(c, m.engine, conn, m.logger).Run(m.ctx)
	m.logger.Info("WebSocket disconnected", "connID", conn.ID(), "userID", id.UserID)
}
