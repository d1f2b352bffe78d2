package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempora-app/tempora/internal/config"
	"github.com/tempora-app/tempora/internal/domain"
	"github.com/tempora-app/tempora/internal/hub"
	"github.com/tempora-app/tempora/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := hub.NewHub()
	go h.Run()

	cfg := &config.Config{
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingInterval:   1 * time.Second,
		MaxMessageSize: 65536,
	}

	e := echo.New()
	e.HideBanner = true
	srv := NewServer(cfg, h, st)
	e.GET("/ws/conversations/:conversation_id", srv.HandleWebSocket)

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts, h, st
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func eventType(t *testing.T, event map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(event["type"], &typ))
	return typ
}

func TestHandleWebSocketSnapshotThenLive(t *testing.T) {
	ctx := context.Background()
	ts, h, st := newTestServer(t)

	require.NoError(t, st.CreateConversation(ctx, &domain.Conversation{
		ConversationID: "conv_ws",
		UserID:         "u1",
	}))
	_, err := st.AppendMessage(ctx, "conv_ws", &domain.Message{
		Role:    domain.RoleUser,
		Content: "what's on today?",
	})
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/conversations/conv_ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// First frame is the full snapshot.
	snapshot := readEvent(t, conn)
	assert.Equal(t, domain.EventConversationSnapshot, eventType(t, snapshot))
	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(snapshot["message"], &conv))
	assert.Equal(t, "conv_ws", conv.ConversationID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "what's on today?", conv.Messages[0].Content)

	// Live events follow once the subscriber is in the group.
	deadline := time.Now().Add(2 * time.Second)
	for h.SubscriberCount("conv_ws") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, h.SubscriberCount("conv_ws"))

	msg, err := st.AppendMessage(ctx, "conv_ws", &domain.Message{
		Role:    domain.RoleAssistant,
		Content: "Nothing scheduled.",
	})
	require.NoError(t, err)
	require.NoError(t, h.PublishJSON("conv_ws", domain.NewMessageEvent(*msg)))

	live := readEvent(t, conn)
	assert.Equal(t, domain.EventConversationMessage, eventType(t, live))
	var delivered domain.Message
	require.NoError(t, json.Unmarshal(live["message"], &delivered))
	assert.Equal(t, "Nothing scheduled.", delivered.Content)
}

func TestHandleWebSocketUnknownConversation(t *testing.T) {
	ts, _, _ := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/conversations/conv_missing"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
