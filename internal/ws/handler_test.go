package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nightingale/internal/broadcast"
	"nightingale/internal/ledger"
	"nightingale/internal/ratelimit"
	"nightingale/internal/registry"
	"nightingale/internal/session"
	"nightingale/pkg/types"
)

type testRelay struct {
	server *httptest.Server
	ledger *ledger.Manager
}

func newTestRelay(t *testing.T, limits session.Limits) *testRelay {
	t.Helper()

	led, err := ledger.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)

	reg := registry.New()
	b := broadcast.New(reg, led)
	coordinator := session.NewCoordinator(reg, led, b, ratelimit.New(), limits)
	handler := NewHandler(coordinator, DefaultOptions())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/{user_id}", handler.HandleWebSocket)

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		_ = led.Close()
	})

	return &testRelay{server: server, ledger: led}
}

func (r *testRelay) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws/" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntilKind reads frames until one with the wanted type arrives, skipping
// unrelated notices that race in between.
func readUntilKind(t *testing.T, conn *websocket.Conn, kind string) types.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))

	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for a %q frame", kind)

		var env types.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Kind() == kind {
			return env
		}
	}
	t.Fatalf("no %q frame arrived in time", kind)
	return nil
}

func expectCloseCode(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, code, closeErr.Code)
}

func TestHandleWebSocket_RelaysBetweenClients(t *testing.T) {
	relay := newTestRelay(t, session.DefaultLimits())

	doc2 := relay.dial(t, "doc2")
	doc1 := relay.dial(t, "doc1")

	joined := readUntilKind(t, doc2, types.KindUserJoined)
	assert.Equal(t, "User doc1 joined the chat", joined["text"])

	require.NoError(t, doc1.WriteMessage(websocket.TextMessage, []byte(`{"text":"hi"}`)))

	msg := readUntilKind(t, doc2, types.KindChat)
	text, _ := msg.Text()
	assert.Equal(t, "hi", text)
	userID, _ := msg.StringField("user_id")
	assert.Equal(t, "doc1", userID)
	assert.NotEmpty(t, msg["message_id"])
	assert.NotEmpty(t, msg["timestamp"])
}

func TestHandleWebSocket_MessageIsPersisted(t *testing.T) {
	relay := newTestRelay(t, session.DefaultLimits())

	doc1 := relay.dial(t, "doc1")
	require.NoError(t, doc1.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","text":"hello"}`)))

	require.Eventually(t, func() bool {
		messages, err := relay.ledger.RecentMessages(t.Context(), 10, 0)
		return err == nil && len(messages) == 1
	}, 3*time.Second, 20*time.Millisecond)

	messages, err := relay.ledger.RecentMessages(t.Context(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", messages[0].Text)
	assert.Equal(t, "doc1", messages[0].UserID)
}

func TestHandleWebSocket_InvalidUserIDClosedWith4000(t *testing.T) {
	relay := newTestRelay(t, session.DefaultLimits())

	conn := relay.dial(t, "bad%20id%21")
	expectCloseCode(t, conn, CloseInvalidUserID)
}

func TestHandleWebSocket_ConnectionRateLimitClosedWith4029(t *testing.T) {
	limits := session.DefaultLimits()
	limits.ConnMaxRequests = 2
	relay := newTestRelay(t, limits)

	for i := 0; i < 2; i++ {
		conn := relay.dial(t, "doc1")
		require.NoError(t, conn.Close())
	}

	conn := relay.dial(t, "doc1")
	expectCloseCode(t, conn, CloseRateLimited)
}

func TestHandleWebSocket_DisconnectSendsLeaveNotice(t *testing.T) {
	relay := newTestRelay(t, session.DefaultLimits())

	doc2 := relay.dial(t, "doc2")
	doc1 := relay.dial(t, "doc1")
	readUntilKind(t, doc2, types.KindUserJoined)

	require.NoError(t, doc1.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, doc1.Close())

	left := readUntilKind(t, doc2, types.KindUserLeft)
	assert.Equal(t, "User doc1 left the chat", left["text"])
	userID, _ := left.StringField("user_id")
	assert.Equal(t, "doc1", userID)
}

func TestHandleWebSocket_InvalidFrameGetsErrorNotice(t *testing.T) {
	relay := newTestRelay(t, session.DefaultLimits())

	doc1 := relay.dial(t, "doc1")
	require.NoError(t, doc1.WriteMessage(websocket.TextMessage, []byte(`{broken`)))

	notice := readUntilKind(t, doc1, types.KindError)
	assert.Equal(t, "Invalid message format", notice["message"])
}
