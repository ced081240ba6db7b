package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"

	domain "github.com/example/live-chat/domain/chat"
	"github.com/example/live-chat/modules/chat"
)

// Keepalive and limits for a websocket session.
const (
	WriteWait    = 10 * time.Second
	PongWait     = 60 * time.Second
	PingPeriod   = (PongWait * 9) / 10
	MaxFrameSize = 64 * 1024

	actionsPerSecond = 10
	actionBurst      = 20
	noticeBuffer     = 16
)

// Engine is the subset of the chat engine used by the API.
type Engine interface {
	Connect(ctx context.Context, id domain.Identity) (*chat.Conn, error)
	Disconnect(connID string) error
	SendMessage(ctx context.Context, connID, content string) error
	SetTyping(ctx context.Context, connID string, isTyping bool) error
	LikeToggle(ctx context.Context, connID, messageID string) error
	EditMessage(ctx context.Context, connID, messageID, newContent string) error
	DeleteMessage(ctx context.Context, connID, messageID string) error
	Stats() chat.Stats
}

var _ Engine = (*chat.Engine)(nil)

// WSConn is the part of a websocket connection a session needs.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

type actionHandler func(ctx context.Context, data json.RawMessage) error

// session bridges one websocket to the chat engine: a read loop decodes
// actions and a write loop drains the engine outbox.
type session struct {
	ws       WSConn
	engine   Engine
	conn     *chat.Conn
	limiter  *rate.Limiter
	notices  chan []byte
	handlers map[string]actionHandler
	logger   types.Logger
}

func newSession(ws WSConn, engine Engine, conn *chat.Conn, logger types.Logger) *session {
	s := &session{
		ws:      ws,
		engine:  engine,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(actionsPerSecond), actionBurst),
		notices: make(chan []byte, noticeBuffer),
		logger:  logger.With("connID", conn.ID(), "userID", conn.Identity().UserID),
	}
	s.handlers = map[string]actionHandler{
		chat.ActionChatMessage:   s.handleChatMessage,
		chat.ActionTyping:        s.handleTyping,
		chat.ActionLikeMessage:   s.handleLikeMessage,
		chat.ActionDeleteMessage: s.handleDeleteMessage,
		chat.ActionEditMessage:   s.handleEditMessage,
	}
	return s
}

// Run blocks until the connection ends, then disconnects it from the engine.
func (s *session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		// Unblocks ReadMessage on shutdown.
		_ = s.ws.Close()
	}()

	s.readLoop(ctx)

	if err := s.engine.Disconnect(s.conn.ID()); err != nil && !errors.Is(err, chat.ErrEngineStopped) {
		s.logger.Warn("Disconnect failed", "error", err)
	}
	cancel()
	<-writerDone
}

func (s *session) readLoop(ctx context.Context) {
	s.ws.SetReadLimit(MaxFrameSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(PongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) && ctx.Err() == nil {
				s.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(PongWait))
		s.dispatch(ctx, data)
	}
}

func (s *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-s.conn.Outbox():
			if !ok {
				// The engine dropped the connection.
				_ = s.ws.SetWriteDeadline(time.Now().Add(WriteWait))
				_ = s.ws.WriteMessage(websocket.CloseMessage, []byte{})
				_ = s.ws.Close()
				return
			}
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("WebSocket write failed", "error", err)
				_ = s.ws.Close()
				return
			}
		case frame := <-s.notices:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("WebSocket write failed", "error", err)
				_ = s.ws.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				_ = s.ws.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) write(messageType int, data []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, data)
}

// dispatch decodes one inbound envelope and invokes its handler. Failures
// are reported to this connection only.
func (s *session) dispatch(ctx context.Context, data []byte) {
	if !s.limiter.Allow() {
		s.notify(chat.ErrorPayload{Code: chat.CodeRateLimited, Message: "too many actions, slow down"})
		return
	}

	var env chat.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		s.reject(fmt.Errorf("%w: malformed envelope", domain.ErrInvalidInput))
		return
	}

	handler, ok := s.handlers[env.Event]
	if !ok {
		s.reject(fmt.Errorf("%w: unknown event %q", domain.ErrInvalidInput, env.Event))
		return
	}

	if err := handler(ctx, env.Data); err != nil {
		switch {
		case errors.Is(err, chat.ErrEngineStopped),
			errors.Is(err, domain.ErrUnknownConnection),
			errors.Is(err, context.Canceled):
			return
		}
		s.reject(err)
	}
}

func (s *session) reject(err error) {
	s.logger.Warn("Action rejected", "error", err)
	s.notify(chat.NoticeFor(err))
}

// notify queues an error notice without blocking the read loop.
func (s *session) notify(payload chat.ErrorPayload) {
	frame, err := chat.EncodeFrame(chat.EventError, payload)
	if err != nil {
		s.logger.Error("Failed to encode notice", "error", err)
		return
	}
	select {
	case s.notices <- frame:
	default:
	}
}

func (s *session) handleChatMessage(ctx context.Context, data json.RawMessage) error {
	p, err := decodePayload[chat.SendMessagePayload](data)
	if err != nil {
		return err
	}
	return s.engine.SendMessage(ctx, s.conn.ID(), p.Content)
}

func (s *session) handleTyping(ctx context.Context, data json.RawMessage) error {
	p, err := decodePayload[chat.TypingPayload](data)
	if err != nil {
		return err
	}
	return s.engine.SetTyping(ctx, s.conn.ID(), p.IsTyping)
}

func (s *session) handleLikeMessage(ctx context.Context, data json.RawMessage) error {
	id, err := decodeMessageRef(data)
	if err != nil {
		return err
	}
	return s.engine.LikeToggle(ctx, s.conn.ID(), id)
}

func (s *session) handleDeleteMessage(ctx context.Context, data json.RawMessage) error {
	id, err := decodeMessageRef(data)
	if err != nil {
		return err
	}
	return s.engine.DeleteMessage(ctx, s.conn.ID(), id)
}

func (s *session) handleEditMessage(ctx context.Context, data json.RawMessage) error {
	p, err := decodePayload[chat.EditMessagePayload](data)
	if err != nil {
		return err
	}
	return s.engine.EditMessage(ctx, s.conn.ID(), p.Ref(), p.NewContent)
}

func decodePayload[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: missing payload", domain.ErrInvalidInput)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: bad payload: %v", domain.ErrInvalidInput, err)
	}
	return v, nil
}

// decodeMessageRef accepts {"messageId": "..."}, {"msgId": "..."} or a bare JSON string id.
func decodeMessageRef(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", fmt.Errorf("%w: bad message id: %v", domain.ErrInvalidInput, err)
		}
		return id, nil
	}
	p, err := decodePayload[chat.MessageRefPayload](data)
	if err != nil {
		return "", err
	}
	return p.Ref(), nil
}
