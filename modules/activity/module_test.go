package activity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/live-chat/events"
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

func TestModule_CountsEvents(t *testing.T) {
	ctx := context.Background()
	m := NewModule(&mockLogger{})
	now := time.Now().UTC()

	require.NoError(t, m.handleMessageSent(ctx, events.MessageSentEvent{MessageID: "m1", Timestamp: now}, nil))
	require.NoError(t, m.handleMessageSent(ctx, events.MessageSentEvent{MessageID: "m2", Timestamp: now}, nil))
	require.NoError(t, m.handleMessageLiked(ctx, events.MessageLikedEvent{MessageID: "m1", Liked: true}, nil))
	require.NoError(t, m.handleMessageLiked(ctx, events.MessageLikedEvent{MessageID: "m1", Liked: false}, nil))
	require.NoError(t, m.handleMessageLiked(ctx, events.MessageLikedEvent{MessageID: "m2", Liked: true}, nil))
	require.NoError(t, m.handleMessageEdited(ctx, events.MessageEditedEvent{MessageID: "m1"}, nil))
	require.NoError(t, m.handleMessageDeleted(ctx, events.MessageDeletedEvent{MessageID: "m2", Timestamp: now.Add(time.Second)}, nil))

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.MessagesSent)
	assert.Equal(t, uint64(2), s.LikesAdded)
	assert.Equal(t, uint64(1), s.LikesRemoved)
	assert.Equal(t, uint64(1), s.MessagesEdited)
	assert.Equal(t, uint64(1), s.MessagesDeleted)
	require.NotNil(t, s.LastEventAt)
	assert.Equal(t, now.Add(time.Second), *s.LastEventAt)
}

func TestSnapshot_OmitsLastEventUntilFirstEvent(t *testing.T) {
	ctx := context.Background()
	m := NewModule(&mockLogger{})

	raw, err := json.Marshal(m.Snapshot())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "lastEventAt")

	require.NoError(t, m.handleMessageSent(ctx, events.MessageSentEvent{MessageID: "m1", Timestamp: time.Now().UTC()}, nil))
	raw, err = json.Marshal(m.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "lastEventAt")
}

func TestModule_TracksPeakOnline(t *testing.T) {
	ctx := context.Background()
	m := NewModule(&mockLogger{})

	for _, online := range []int{1, 3, 2} {
		require.NoError(t, m.handlePresenceChanged(ctx, events.PresenceChangedEvent{Online: online}, nil))
	}

	s := m.Snapshot()
	assert.Equal(t, 2, s.OnlineUsers)
	assert.Equal(t, 3, s.PeakOnline)
	assert.Equal(t, uint64(3), s.PresenceChanges)

	health := m.Health(ctx)
	assert.True(t, health.Healthy)
	assert.Equal(t, 3, health.Details["peak_online"])
}
