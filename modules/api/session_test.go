package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	domain "github.com/example/live-chat/domain/chat"
	"github.com/example/live-chat/modules/chat"
	"github.com/example/live-chat/modules/store"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any)         {}
func (m *mockLogger) Info(_ string, _ ...any)          {}
func (m *mockLogger) Warn(_ string, _ ...any)          {}
func (m *mockLogger) Error(_ string, _ ...any)         {}
func (m *mockLogger) With(_ ...any) types.Logger       { return m }
func (m *mockLogger) WithError(_ error) types.Logger   { return m }
func (m *mockLogger) WithModule(_ string) types.Logger { return m }

var errClosed = errors.New("use of closed connection")

// fakeWS is an in-memory WSConn.
type fakeWS struct {
	inbound   chan []byte
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeWS() *fakeWS {
	return &fakeWS{
		inbound: make(chan []byte, 64),
		written: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeWS) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errClosed
	}
}

func (f *fakeWS) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errClosed
	default:
	}
	if messageType == websocket.TextMessage {
		f.written <- append([]byte(nil), data...)
	}
	return nil
}

func (f *fakeWS) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeWS) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeWS) SetReadLimit(int64)                        {}
func (f *fakeWS) SetPongHandler(func(appData string) error) {}

func (f *fakeWS) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeWS) send(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(chat.Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	f.inbound <- frame
}

// next waits for the next frame carrying event, skipping others.
func (f *fakeWS) next(t *testing.T, event string) chat.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame := <-f.written:
			var env chat.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			if env.Event == event {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", event)
			return chat.Envelope{}
		}
	}
}

func decodeData[T any](t *testing.T, env chat.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func setupEngine(t *testing.T) *chat.Engine {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(db))

	engine := chat.NewEngine(store.NewRepository(db), nil, &mockLogger{}, chat.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-engine.Done()
		_ = sqlDB.Close()
	})
	return engine
}

var (
	dana  = domain.Identity{UserID: "u-dana", Username: "dana"}
	ellis = domain.Identity{UserID: "u-ellis", Username: "ellis"}
)

type runningSession struct {
	ws   *fakeWS
	conn *chat.Conn
	done chan struct{}
}

func startSession(t *testing.T, engine *chat.Engine, id domain.Identity) *runningSession {
	t.Helper()
	conn, err := engine.Connect(context.Background(), id)
	require.NoError(t, err)

	rs := &runningSession{ws: newFakeWS(), conn: conn, done: make(chan struct{})}
	go func() {
		defer close(rs.done)
		newSession(rs.ws, engine, conn, &mockLogger{}).Run(context.Background())
	}()
	t.Cleanup(func() {
		_ = rs.ws.Close()
		<-rs.done
	})
	return rs
}

func (rs *runningSession) wait(t *testing.T) {
	t.Helper()
	select {
	case <-rs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestSession_DispatchesActions(t *testing.T) {
	engine := setupEngine(t)
	a := startSession(t, engine, dana)
	a.ws.next(t, chat.EventInitialMessages)
	b := startSession(t, engine, ellis)
	b.ws.next(t, chat.EventInitialMessages)

	a.ws.send(t, chat.ActionChatMessage, chat.SendMessagePayload{Content: "hi"})
	msg := decodeData[domain.Message](t, b.ws.next(t, chat.EventChatMessage))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "dana", msg.Sender.Username)
	a.ws.next(t, chat.EventChatMessage)

	b.ws.send(t, chat.ActionLikeMessage, chat.MessageRefPayload{MessageID: msg.ID})
	liked := decodeData[chat.MessageLikedPayload](t, a.ws.next(t, chat.EventMessageLiked))
	assert.Equal(t, msg.ID, liked.MessageID)
	assert.Equal(t, "u-ellis", liked.UserID)
	assert.True(t, liked.Liked)

	a.ws.send(t, chat.ActionEditMessage, chat.EditMessagePayload{MessageID: msg.ID, NewContent: "hello"})
	edited := decodeData[domain.Message](t, b.ws.next(t, chat.EventMessageEdited))
	assert.Equal(t, "hello", edited.Content)
	assert.True(t, edited.Edited)
	require.Len(t, edited.Likers, 1)

	b.ws.send(t, chat.ActionTyping, chat.TypingPayload{IsTyping: true})
	assert.Equal(t, []string{"ellis"}, decodeData[[]string](t, a.ws.next(t, chat.EventTypingUsers)))

	// Delete accepts a bare message id.
	a.ws.send(t, chat.ActionDeleteMessage, msg.ID)
	assert.Equal(t, msg.ID, decodeData[string](t, b.ws.next(t, chat.EventMessageDeleted)))
}

func TestSession_InvalidInputKeepsConnectionOpen(t *testing.T) {
	engine := setupEngine(t)
	a := startSession(t, engine, dana)
	a.ws.next(t, chat.EventInitialMessages)

	a.ws.inbound <- []byte("not json")
	assert.Equal(t, chat.CodeInvalidInput, decodeData[chat.ErrorPayload](t, a.ws.next(t, chat.EventError)).Code)

	a.ws.send(t, "join room", map[string]string{"room": "x"})
	assert.Equal(t, chat.CodeInvalidInput, decodeData[chat.ErrorPayload](t, a.ws.next(t, chat.EventError)).Code)

	a.ws.send(t, chat.ActionChatMessage, chat.SendMessagePayload{Content: "   "})
	assert.Equal(t, chat.CodeInvalidInput, decodeData[chat.ErrorPayload](t, a.ws.next(t, chat.EventError)).Code)

	a.ws.send(t, chat.ActionLikeMessage, 42)
	assert.Equal(t, chat.CodeInvalidInput, decodeData[chat.ErrorPayload](t, a.ws.next(t, chat.EventError)).Code)

	a.ws.send(t, chat.ActionChatMessage, chat.SendMessagePayload{Content: "still here"})
	msg := decodeData[domain.Message](t, a.ws.next(t, chat.EventChatMessage))
	assert.Equal(t, "still here", msg.Content)
}

func TestSession_MutationsOnMissingMessageAreSilent(t *testing.T) {
	engine := setupEngine(t)
	a := startSession(t, engine, dana)
	a.ws.next(t, chat.EventInitialMessages)

	a.ws.send(t, chat.ActionLikeMessage, chat.MessageRefPayload{MessageID: "gone"})
	a.ws.send(t, chat.ActionDeleteMessage, "gone")
	a.ws.send(t, chat.ActionChatMessage, chat.SendMessagePayload{Content: "marker"})

	// The marker arrives with no error notice before it.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame := <-a.ws.written:
			var env chat.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			require.NotEqual(t, chat.EventError, env.Event)
			if env.Event == chat.EventChatMessage {
				return
			}
		case <-timeout:
			t.Fatal("marker message not received")
		}
	}
}

func TestSession_RateLimit(t *testing.T) {
	engine := setupEngine(t)
	conn, err := engine.Connect(context.Background(), dana)
	require.NoError(t, err)
	s := newSession(newFakeWS(), engine, conn, &mockLogger{})

	noop, err := json.Marshal(chat.Envelope{Event: chat.ActionTyping, Data: json.RawMessage(`{"isTyping":false}`)})
	require.NoError(t, err)

	for i := 0; i < actionBurst; i++ {
		s.dispatch(context.Background(), noop)
	}
	require.Empty(t, s.notices, "actions within the burst are accepted")

	s.dispatch(context.Background(), noop)
	require.Len(t, s.notices, 1)

	var env chat.Envelope
	require.NoError(t, json.Unmarshal(<-s.notices, &env))
	assert.Equal(t, chat.EventError, env.Event)
	assert.Equal(t, chat.CodeRateLimited, decodeData[chat.ErrorPayload](t, env).Code)
}

func TestSession_ClientCloseDisconnects(t *testing.T) {
	engine := setupEngine(t)
	a := startSession(t, engine, dana)
	b := startSession(t, engine, ellis)
	a.ws.next(t, chat.EventInitialMessages)
	b.ws.next(t, chat.EventInitialMessages)

	require.NoError(t, a.ws.Close())
	a.wait(t)

	// The first online count ellis sees is their own connect.
	assert.Equal(t, 2, decodeData[int](t, b.ws.next(t, chat.EventOnlineUsers)))
	assert.Equal(t, 1, decodeData[int](t, b.ws.next(t, chat.EventOnlineUsers)))
	assert.Equal(t, 1, engine.Stats().Connections)
}

func TestSession_EndsWhenEngineDropsConnection(t *testing.T) {
	engine := setupEngine(t)
	a := startSession(t, engine, dana)
	a.ws.next(t, chat.EventInitialMessages)

	require.NoError(t, engine.Disconnect(a.conn.ID()))
	a.wait(t)

	select {
	case <-a.ws.closed:
	default:
		t.Fatal("websocket was not closed")
	}
}

func TestDecodeMessageRef(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "object", data: `{"messageId":"m1"}`, want: "m1"},
		{name: "legacy field", data: `{"msgId":"m4"}`, want: "m4"},
		{name: "bare string", data: `"m2"`, want: "m2"},
		{name: "padded bare string", data: `  "m3" `, want: "m3"},
		{name: "number", data: `7`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeMessageRef(json.RawMessage(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
