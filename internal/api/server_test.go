package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nightingale/internal/broadcast"
	"nightingale/internal/ledger"
	"nightingale/internal/registry"
	"nightingale/pkg/types"
)

type stubHandle struct{}

func (stubHandle) WriteJSON(interface{}) error { return nil }
func (stubHandle) Close() error                { return nil }

func newTestServer(t *testing.T) (*Server, *ledger.Manager, *registry.Registry) {
	t.Helper()

	led, err := ledger.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	reg := registry.New()
	return NewServer(led, reg, broadcast.New(reg, led)), led, reg
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleRoot(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Nightingale chat relay is running", body["message"])
}

func TestHandleHealth_ReportsRegistryCount(t *testing.T) {
	s, _, reg := newTestServer(t)
	reg.Put("doc1", stubHandle{})
	reg.Put("doc2", stubHandle{})

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status      string `json:"status"`
		ActiveUsers int    `json:"active_users"`
		Timestamp   string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 2, body.ActiveUsers)
	assert.NotEmpty(t, body.Timestamp)
}

func TestHandleOnlineUsers(t *testing.T) {
	s, led, reg := newTestServer(t)
	ctx := context.Background()

	_, err := led.UpsertUser(ctx, "doc1", "Dr. Smith", "Cardiology", "")
	require.NoError(t, err)
	reg.Put("doc1", stubHandle{})
	reg.Put("doc2", stubHandle{})

	rec := get(t, s, "/users/online")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		OnlineUsers []broadcast.OnlineUser `json:"online_users"`
		Count       int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.OnlineUsers, 2)
	assert.Equal(t, "Dr. Smith", body.OnlineUsers[0].UserName)
	assert.Equal(t, "Unknown", body.OnlineUsers[1].Department)
}

func TestHandleRecentMessages_EmptyIsJSONArray(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/messages/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleRecentMessages_ReturnsNewestFirst(t *testing.T) {
	s, led, _ := newTestServer(t)
	ctx := context.Background()

	_, err := led.UpsertUser(ctx, "doc1", "doc1", "Unknown", "")
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := led.CreateMessage(ctx, "doc1", text, "text")
		require.NoError(t, err)
	}

	rec := get(t, s, "/messages/recent?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var messages []*types.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "three", messages[0].Text)
	assert.Equal(t, "two", messages[1].Text)
}

func TestHandleRecentMessages_RejectsBadLimit(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, limit := range []string{"abc", "0", "-5"} {
		rec := get(t, s, "/messages/recent?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit %q", limit)
	}
}

func TestCORSHeadersPresent(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/health")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpointServes(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}
