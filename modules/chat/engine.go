package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"

	domain "github.com/example/live-chat/domain/chat"
	"github.com/example/live-chat/events"
)

// ErrEngineStopped is returned for operations queued after shutdown.
var ErrEngineStopped = errors.New("chat engine stopped")

// Options tunes the engine.
type Options struct {
	HistoryLimit int
	OutboxSize   int
	QueueSize    int
	StoreTimeout time.Duration
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		HistoryLimit: 100,
		OutboxSize:   64,
		QueueSize:    256,
		StoreTimeout: 5 * time.Second,
	}
}

// Publisher receives domain events once a mutation has been fanned out.
type Publisher interface {
	MessageSent(events.MessageSentEvent)
	MessageLiked(events.MessageLikedEvent)
	MessageEdited(events.MessageEditedEvent)
	MessageDeleted(events.MessageDeletedEvent)
	PresenceChanged(events.PresenceChangedEvent)
}

type noopPublisher struct{}

func (noopPublisher) MessageSent(events.MessageSentEvent)         {}
func (noopPublisher) MessageLiked(events.MessageLikedEvent)       {}
func (noopPublisher) MessageEdited(events.MessageEditedEvent)     {}
func (noopPublisher) MessageDeleted(events.MessageDeletedEvent)   {}
func (noopPublisher) PresenceChanged(events.PresenceChangedEvent) {}

// Conn is the engine's handle on one live connection. Frames addressed to
// it arrive on Outbox, which the engine closes when the connection is dropped.
type Conn struct {
	id       string
	identity domain.Identity
	outbox   chan []byte
	evicted  bool
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Identity returns the authenticated user of the connection.
func (c *Conn) Identity() domain.Identity { return c.identity }

// Outbox yields encoded frames for the connection.
func (c *Conn) Outbox() <-chan []byte { return c.outbox }

type command struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	reply chan error
}

// Engine is the chat state machine. A single worker goroutine owns the
// registry, the presence tracker and every store call, so mutations are
// applied and fanned out one at a time in store order.
type Engine struct {
	store     domain.MessageStore
	publisher Publisher
	logger    types.Logger
	opts      Options

	commands chan command
	done     chan struct{}

	// Owned by the worker.
	registry *Registry
	presence *Presence
	conns    map[string]*Conn
	slow     []string

	stats         atomic.Pointer[Stats]
	messagesSent  atomic.Uint64
	slowConsumers atomic.Uint64
}

// NewEngine creates an engine. Run must be called before use.
func NewEngine(store domain.MessageStore, publisher Publisher, logger types.Logger, opts Options) *Engine {
	def := DefaultOptions()
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = def.OutboxSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}

	registry := NewRegistry()
	e := &Engine{
		store:     store,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		commands:  make(chan command, opts.QueueSize),
		done:      make(chan struct{}),
		registry:  registry,
		presence:  NewPresence(registry),
		conns:     make(map[string]*Conn),
	}
	e.stats.Store(&Stats{TypingUsers: []string{}})
	return e
}

// Run processes commands until ctx is cancelled, then closes every connection.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.closeAll()
			return
		case cmd := <-e.commands:
			e.apply(cmd)
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) apply(cmd command) {
	ctx, cancel := context.WithTimeout(cmd.ctx, e.opts.StoreTimeout)
	err := cmd.fn(ctx)
	cancel()

	e.evictSlow()
	e.refreshStats()
	cmd.reply <- err
}

// exec queues fn for the worker and waits for its result.
func (e *Engine) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}
}

// Connect registers a new connection for id. The connection first receives
// the recent history, the online count and the typing set if non-empty.
func (e *Engine) Connect(ctx context.Context, id domain.Identity) (*Conn, error) {
	if id.UserID == "" || id.Username == "" {
		return nil, fmt.Errorf("%w: identity requires user id and username", domain.ErrInvalidInput)
	}

	conn := &Conn{
		id:       uuid.New().String(),
		identity: id,
		outbox:   make(chan []byte, e.opts.OutboxSize),
	}

	err := e.exec(ctx, func(ctx context.Context) error {
		before := e.presence.OnlineCount()
		if err := e.registry.Register(domain.Connection{
			ID:          conn.id,
			Identity:    id,
			ConnectedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		e.conns[conn.id] = conn

		history, err := e.store.LoadRecent(ctx, e.opts.HistoryLimit)
		if err != nil {
			e.logger.Warn("Failed to load message history", "connID", conn.id, "error", err)
			history = []domain.Message{}
		}
		e.sendTo(conn, EventInitialMessages, history)
		if err != nil {
			e.sendTo(conn, EventError, NoticeFor(classifyStoreError(err)))
		}

		online := e.presence.OnlineCount()
		e.sendTo(conn, EventOnlineUsers, online)
		if typing := e.presence.Typing(); len(typing) > 0 {
			e.sendTo(conn, EventTypingUsers, typing)
		}

		if online != before {
			e.broadcastExcept(conn.id, EventOnlineUsers, online)
			e.publishPresence()
		}
		e.logger.Info("Connection registered", "connID", conn.id, "userID", id.UserID, "online", online)
		return nil
	})
	if err != nil {
		// The worker may have registered the connection before the caller gave up.
		_ = e.Disconnect(conn.id)
		return nil, err
	}
	return conn, nil
}

// Disconnect drops the connection. Unknown ids are ignored.
func (e *Engine) Disconnect(connID string) error {
	return e.exec(context.Background(), func(_ context.Context) error {
		e.removeConn(connID)
		return nil
	})
}

// SendMessage stores content from the connection's user and broadcasts it.
func (e *Engine) SendMessage(ctx context.Context, connID, content string) error {
	content, err := NormalizeContent(content)
	if err != nil {
		return err
	}

	return e.exec(ctx, func(ctx context.Context) error {
		conn, ok := e.registry.Get(connID)
		if !ok {
			return domain.ErrUnknownConnection
		}

		msg, err := e.store.Append(ctx, domain.Message{
			Sender:  domain.SenderOf(conn.Identity),
			Content: content,
			Likers:  []domain.Liker{},
		})
		if err != nil {
			return classifyStoreError(err)
		}
		if msg.Likers == nil {
			msg.Likers = []domain.Liker{}
		}

		e.broadcast(EventChatMessage, msg)
		e.messagesSent.Add(1)
		e.publisher.MessageSent(events.MessageSentEvent{
			MessageID: msg.ID,
			Seq:       msg.Seq,
			UserID:    msg.Sender.UserID,
			Username:  msg.Sender.Username,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		})
		return nil
	})
}

// SetTyping updates the user's typing flag and broadcasts the typing set
// when it changed.
func (e *Engine) SetTyping(ctx context.Context, connID string, isTyping bool) error {
	return e.exec(ctx, func(_ context.Context) error {
		conn, ok := e.registry.Get(connID)
		if !ok {
			return domain.ErrUnknownConnection
		}

		set, changed := e.presence.SetTyping(conn.Identity.UserID, conn.Identity.Username, isTyping)
		if !changed {
			return nil
		}
		e.broadcast(EventTypingUsers, set)
		e.publishPresence()
		return nil
	})
}

// LikeToggle toggles the user's like on a message. Missing messages are ignored.
func (e *Engine) LikeToggle(ctx context.Context, connID, messageID string) error {
	if err := ValidateMessageID(messageID); err != nil {
		return err
	}

	return e.exec(ctx, func(ctx context.Context) error {
		conn, ok := e.registry.Get(connID)
		if !ok {
			return domain.ErrUnknownConnection
		}

		liker := domain.LikerOf(conn.Identity)
		msg, err := e.store.ToggleLike(ctx, messageID, liker)
		if err != nil {
			return classifyStoreError(err)
		}

		likers := msg.Likers
		if likers == nil {
			likers = []domain.Liker{}
		}
		liked := msg.HasLiker(liker.UserID)
		e.broadcast(EventMessageLiked, MessageLikedPayload{
			MessageID: msg.ID,
			UserID:    liker.UserID,
			Username:  liker.Username,
			Avatar:    liker.Avatar,
			Liked:     liked,
			Likers:    likers,
		})
		e.publisher.MessageLiked(events.MessageLikedEvent{
			MessageID: msg.ID,
			UserID:    liker.UserID,
			Username:  liker.Username,
			Liked:     liked,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
}

// EditMessage replaces a message's content. Unchanged content and missing
// messages produce no broadcast.
func (e *Engine) EditMessage(ctx context.Context, connID, messageID, newContent string) error {
	if err := ValidateMessageID(messageID); err != nil {
		return err
	}
	content, err := NormalizeContent(newContent)
	if err != nil {
		return err
	}

	return e.exec(ctx, func(ctx context.Context) error {
		conn, ok := e.registry.Get(connID)
		if !ok {
			return domain.ErrUnknownConnection
		}

		msg, changed, err := e.store.EditContent(ctx, messageID, content)
		if err != nil {
			return classifyStoreError(err)
		}
		if !changed {
			return nil
		}
		if msg.Likers == nil {
			msg.Likers = []domain.Liker{}
		}

		e.broadcast(EventMessageEdited, msg)
		e.publisher.MessageEdited(events.MessageEditedEvent{
			MessageID: msg.ID,
			UserID:    conn.Identity.UserID,
			Content:   msg.Content,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
}

// DeleteMessage removes a message and broadcasts its id. Missing messages are ignored.
func (e *Engine) DeleteMessage(ctx context.Context, connID, messageID string) error {
	if err := ValidateMessageID(messageID); err != nil {
		return err
	}

	return e.exec(ctx, func(ctx context.Context) error {
		conn, ok := e.registry.Get(connID)
		if !ok {
			return domain.ErrUnknownConnection
		}

		if err := e.store.Delete(ctx, messageID); err != nil {
			return classifyStoreError(err)
		}

		e.broadcast(EventMessageDeleted, messageID)
		e.publisher.MessageDeleted(events.MessageDeletedEvent{
			MessageID: messageID,
			UserID:    conn.Identity.UserID,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
}

// Stats returns the snapshot taken after the last processed command.
func (e *Engine) Stats() Stats {
	s := *e.stats.Load()
	s.MessagesSent = e.messagesSent.Load()
	s.SlowConsumers = e.slowConsumers.Load()
	return s
}

// classifyStoreError maps store failures for the acting caller. NotFound
// means the target is gone and is swallowed.
func classifyStoreError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
}

func (e *Engine) removeConn(connID string) {
	conn, ok := e.conns[connID]
	if !ok {
		return
	}
	delete(e.conns, connID)
	close(conn.outbox)

	id, last, ok := e.registry.Unregister(connID)
	if !ok {
		return
	}
	e.logger.Info("Connection unregistered", "connID", connID, "userID", id.UserID, "lastForUser", last)
	if !last {
		return
	}

	if set, changed := e.presence.OnDisconnectCleanup(id.UserID, true); changed {
		e.broadcast(EventTypingUsers, set)
	}
	e.broadcast(EventOnlineUsers, e.presence.OnlineCount())
	e.publishPresence()
}

func (e *Engine) broadcast(event string, data any) {
	e.broadcastExcept("", event, data)
}

func (e *Engine) broadcastExcept(skipID, event string, data any) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		e.logger.Error("Failed to encode broadcast", "event", event, "error", err)
		return
	}
	for id, conn := range e.conns {
		if id == skipID {
			continue
		}
		e.deliver(conn, frame)
	}
}

func (e *Engine) sendTo(conn *Conn, event string, data any) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		e.logger.Error("Failed to encode frame", "event", event, "connID", conn.id, "error", err)
		return
	}
	e.deliver(conn, frame)
}

// deliver never blocks. A peer whose outbox is full is queued for eviction.
func (e *Engine) deliver(conn *Conn, frame []byte) {
	if conn.evicted {
		return
	}
	select {
	case conn.outbox <- frame:
	default:
		conn.evicted = true
		e.slow = append(e.slow, conn.id)
		e.slowConsumers.Add(1)
		e.logger.Warn("Outbox full, dropping slow connection", "connID", conn.id, "userID", conn.identity.UserID)
	}
}

func (e *Engine) evictSlow() {
	for len(e.slow) > 0 {
		connID := e.slow[0]
		e.slow = e.slow[1:]
		e.removeConn(connID)
	}
}

func (e *Engine) publishPresence() {
	e.publisher.PresenceChanged(events.PresenceChangedEvent{
		Online:    e.presence.OnlineCount(),
		Typing:    e.presence.Typing(),
		Timestamp: time.Now().UTC(),
	})
}

func (e *Engine) refreshStats() {
	e.stats.Store(&Stats{
		Connections: e.registry.Len(),
		OnlineUsers: e.presence.OnlineCount(),
		TypingUsers: e.presence.Typing(),
	})
}

func (e *Engine) closeAll() {
	for id, conn := range e.conns {
		close(conn.outbox)
		delete(e.conns, id)
		e.registry.Unregister(id)
	}
	e.slow = nil
	e.presence = NewPresence(e.registry)
	e.refreshStats()
	e.logger.Info("Chat engine stopped")
}
