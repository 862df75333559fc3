package types

import (
	"time"

	"github.com/google/uuid"
)

// Envelope kinds carried in the "type" field of websocket payloads.
const (
	KindChat       = "message"
	KindUserJoined = "user_joined"
	KindUserLeft   = "user_left"
	KindError      = "error"
)

// DefaultMessageKind is the stored message_kind when a chat payload does not
// declare one.
const DefaultMessageKind = "text"

// User is the identity record persisted by the ledger. Created on first
// connect, updated on every subsequent connect or profile change.
type User struct {
	UserID     string     `json:"user_id"`
	UserName   string     `json:"user_name"`
	Department string     `json:"department"`
	Bio        string     `json:"bio,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// Message is an immutable chat record. The author display fields are
// denormalized from the users table on read.
type Message struct {
	MessageID  string    `json:"message_id"`
	Text       string    `json:"text"`
	Kind       string    `json:"type"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name,omitempty"`
	Department string    `json:"department,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	CreatedAt  time.Time `json:"timestamp"`
}

// Session records one connection lifetime. ConnectionToken is minted fresh
// per connection; it is never derived from the handle itself.
type Session struct {
	UserID          string     `json:"user_id"`
	ConnectionToken string     `json:"connection_token"`
	ConnectedAt     time.Time  `json:"connected_at"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	Active          bool       `json:"active"`
}

// Envelope is the open-shaped websocket payload. Caller-supplied fields are
// preserved verbatim; the server stamps timestamp, message_id and the
// authoritative user_id before fan-out.
type Envelope map[string]interface{}

// Kind returns the "type" field, or "" when absent or not a string.
func (e Envelope) Kind() string {
	v, _ := e["type"].(string)
	return v
}

// Text returns the "text" field and whether it is present as a string.
func (e Envelope) Text() (string, bool) {
	v, ok := e["text"].(string)
	return v, ok
}

// StringField returns a named string field when present and non-empty.
func (e Envelope) StringField(key string) (string, bool) {
	v, ok := e[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Stamp overwrites the server-assigned metadata. Any client-supplied user_id
// is discarded here.
func (e Envelope) Stamp(userID string, now time.Time) {
	e["timestamp"] = now.Format(time.RFC3339Nano)
	e["message_id"] = uuid.NewString()
	e["user_id"] = userID
}

// SystemNotice builds a non-persisted join/leave envelope.
func SystemNotice(kind, userID, text string, now time.Time) Envelope {
	return Envelope{
		"type":       kind,
		"user_id":    userID,
		"text":       text,
		"timestamp":  now.Format(time.RFC3339Nano),
		"message_id": uuid.NewString(),
	}
}

// ErrorNotice builds a sender-only in-band error envelope. The connection
// stays open after delivery.
func ErrorNotice(reason string) Envelope {
	return Envelope{
		"type":    KindError,
		"message": reason,
	}
}
