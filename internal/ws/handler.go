package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"nightingale/internal/session"
	"nightingale/pkg/types"
)

// Close codes sent when a connection is refused before entering the chat.
const (
	CloseInvalidUserID = 4000
	CloseRateLimited   = 4029
)

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Options tunes the per-connection transport behavior.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultOptions returns the deployed heartbeat and buffering settings.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
	}
}

// Handler upgrades HTTP requests at /ws/{user_id} and runs each connection's
// receive loop against the coordinator.
type Handler struct {
	coordinator *session.Coordinator
	opts        Options
}

// NewHandler creates a websocket handler bound to the coordinator.
func NewHandler(coordinator *session.Coordinator, opts Options) *Handler {
	return &Handler{coordinator: coordinator, opts: opts}
}

// HandleWebSocket is the entry point for one client connection. Admission
// failures are reported with a distinct close code before any registry or
// ledger state is touched.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(wsConn, h.opts.BufferSize, h.opts.WriteTimeout)

	if err := h.coordinator.Admit(userID, clientHost(r.RemoteAddr)); err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidIdentifier):
			conn.closeWithCode(CloseInvalidUserID, "Invalid user ID format")
		case errors.Is(err, types.ErrRateLimited):
			conn.closeWithCode(CloseRateLimited, "Rate limit exceeded")
		default:
			_ = conn.Close()
		}
		return
	}

	// Connection lifetimes outlive the request context once the socket is
	// hijacked, so coordinator calls use the background context.
	ctx := context.Background()

	client, err := h.coordinator.Connect(ctx, userID, conn)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("connect failed")
		_ = conn.Close()
		return
	}

	h.readLoop(ctx, conn, client)
}

// readLoop processes inbound frames strictly in arrival order and guarantees
// the disconnect path runs exactly once when the loop exits.
func (h *Handler) readLoop(ctx context.Context, conn *Connection, client *session.Client) {
	defer func() {
		h.coordinator.Disconnect(ctx, client)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user", client.UserID).Msg("read loop ended")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.coordinator.HandleInbound(ctx, client, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
