package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/example/live-chat/domain/chat"
	"github.com/example/live-chat/modules/activity"
	"github.com/example/live-chat/modules/identity"
)

type fakeHistory struct {
	messages []domain.Message
	err      error
	limits   []int
}

func (f *fakeHistory) RecentMessages(_ context.Context, limit int) ([]domain.Message, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.messages) {
		return f.messages[len(f.messages)-limit:], nil
	}
	return f.messages, nil
}

type fakeActivity struct {
	snapshot activity.Snapshot
}

func (f *fakeActivity) Snapshot() activity.Snapshot {
	return f.snapshot
}

const testSecret = "handlers-test-secret"

func setupModule(t *testing.T, history *fakeHistory) *APIModule {
	t.Helper()
	provider := identity.NewJWTProvider(identity.JWTConfig{SecretKey: testSecret, Issuer: "live-chat"})
	m := NewModule(Options{CORSAllowedOrigins: "*", HistoryLimit: 2}, setupEngine(t), provider, &mockLogger{})
	m.history = history
	m.ctx, m.cancel = context.WithCancel(context.Background())
	t.Cleanup(m.cancel)
	m.app = m.newApp()
	return m
}

func issueToken(t *testing.T, id domain.Identity, ttl time.Duration) string {
	t.Helper()
	provider := identity.NewJWTProvider(identity.JWTConfig{SecretKey: testSecret, Issuer: "live-chat"})
	token, err := provider.IssueToken(id, ttl)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, m *APIModule, target string, header map[string]string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := m.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func sampleMessages() []domain.Message {
	return []domain.Message{
		{ID: "m1", Seq: 1, Content: "one", Sender: domain.Sender{UserID: "u-dana", Username: "dana"}},
		{ID: "m2", Seq: 2, Content: "two", Sender: domain.Sender{UserID: "u-dana", Username: "dana"}},
		{ID: "m3", Seq: 3, Content: "three", Sender: domain.Sender{UserID: "u-ellis", Username: "ellis"}},
	}
}

func TestHealthHandler(t *testing.T) {
	m := setupModule(t, &fakeHistory{})

	status, body := doRequest(t, m, "/health", nil)
	require.Equal(t, 200, status)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "api", resp.Details["module"])
}

func TestListMessages(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []string
		wantLimit  int
	}{
		{name: "default limit", query: "", wantStatus: 200, wantIDs: []string{"m2", "m3"}, wantLimit: 2},
		{name: "explicit limit", query: "?limit=1", wantStatus: 200, wantIDs: []string{"m3"}, wantLimit: 1},
		{name: "capped limit", query: "?limit=100000", wantStatus: 200, wantIDs: []string{"m1", "m2", "m3"}, wantLimit: 500},
		{name: "zero limit", query: "?limit=0", wantStatus: 400},
		{name: "negative limit", query: "?limit=-3", wantStatus: 400},
		{name: "non numeric", query: "?limit=ten", wantStatus: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &fakeHistory{messages: sampleMessages()}
			m := setupModule(t, history)

			status, body := doRequest(t, m, "/api/v1/messages"+tt.query, nil)
			require.Equal(t, tt.wantStatus, status)
			if tt.wantStatus != 200 {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, "validation_error", resp.Error)
				assert.Empty(t, history.limits)
				return
			}

			var resp HistoryResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			ids := make([]string, 0, len(resp.Messages))
			for _, msg := range resp.Messages {
				ids = append(ids, msg.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, len(tt.wantIDs), resp.Total)
			assert.Equal(t, []int{tt.wantLimit}, history.limits)
		})
	}
}

func TestListMessages_EmptyHistory(t *testing.T) {
	m := setupModule(t, &fakeHistory{})

	status, body := doRequest(t, m, "/api/v1/messages", nil)
	require.Equal(t, 200, status)
	assert.JSONEq(t, `{"messages":[],"total":0}`, string(body))
}

func TestListMessages_StorageUnavailable(t *testing.T) {
	m := setupModule(t, &fakeHistory{err: errors.New("recent-messages service call failed: timeout")})

	status, body := doRequest(t, m, "/api/v1/messages", nil)
	require.Equal(t, 503, status)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "storage_unavailable", resp.Error)
}

func TestGetPresence(t *testing.T) {
	m := setupModule(t, &fakeHistory{})
	engine := m.engine

	_, err := engine.Connect(context.Background(), dana)
	require.NoError(t, err)
	conn, err := engine.Connect(context.Background(), ellis)
	require.NoError(t, err)
	require.NoError(t, engine.SetTyping(context.Background(), conn.ID(), true))

	status, body := doRequest(t, m, "/api/v1/presence", nil)
	require.Equal(t, 200, status)

	var resp PresenceResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 2, resp.OnlineUsers)
	assert.Equal(t, 2, resp.Connections)
	assert.Equal(t, []string{"ellis"}, resp.TypingUsers)
}

func TestGetActivity(t *testing.T) {
	m := setupModule(t, &fakeHistory{})

	status, _ := doRequest(t, m, "/api/v1/activity", nil)
	assert.Equal(t, 503, status)

	m.SetActivity(&fakeActivity{snapshot: activity.Snapshot{MessagesSent: 3, PeakOnline: 2}})
	status, body := doRequest(t, m, "/api/v1/activity", nil)
	require.Equal(t, 200, status)

	var resp activity.Snapshot
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, uint64(3), resp.MessagesSent)
	assert.Equal(t, 2, resp.PeakOnline)
}

func TestWebSocketAuthentication(t *testing.T) {
	valid := issueToken(t, dana, time.Hour)
	expired := issueToken(t, dana, -time.Minute)

	tests := []struct {
		name        string
		target      string
		header      map[string]string
		wantStatus  int
		wantMessage string
	}{
		{name: "missing token", target: "/ws", wantStatus: 401, wantMessage: "Token is required"},
		{name: "invalid token", target: "/ws?token=garbage", wantStatus: 401, wantMessage: "Invalid token"},
		{name: "expired token", target: "/ws?token=" + expired, wantStatus: 401, wantMessage: "Token has expired"},
		{
			name:        "non bearer header",
			target:      "/ws",
			header:      map[string]string{"Authorization": "Basic " + valid},
			wantStatus:  401,
			wantMessage: "Token is required",
		},
		{name: "valid query token without upgrade", target: "/ws?token=" + valid, wantStatus: 426},
		{
			name:       "valid bearer token without upgrade",
			target:     "/ws",
			header:     map[string]string{"Authorization": "Bearer " + valid},
			wantStatus: 426,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := setupModule(t, &fakeHistory{})

			status, body := doRequest(t, m, tt.target, tt.header)
			require.Equal(t, tt.wantStatus, status)
			if tt.wantMessage != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, "unauthorized", resp.Error)
				assert.Equal(t, tt.wantMessage, resp.Message)
			}
		})
	}
}

func TestAPIModule_StartRequiresHistory(t *testing.T) {
	m := NewModule(Options{}, setupEngine(t), identity.NewJWTProvider(identity.JWTConfig{SecretKey: testSecret}), &mockLogger{})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history adapter")
	assert.False(t, m.Health(context.Background()).Healthy)
}
