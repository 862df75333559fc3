// Package ledger is the durable-storage facade over SQLite for users,
// messages and sessions. Writes are funneled through a single goroutine;
// reads run concurrently against the WAL.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"nightingale/pkg/types"
)

var (
	ErrClosed       = errors.New("ledger is closed")
	ErrWriteTimeout = errors.New("write operation timeout")
	ErrUserNotFound = errors.New("user not found")
)

const writeTimeout = 30 * time.Second

// Manager implements interfaces.Ledger against a SQLite database.
type Manager struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// Open opens (creating if needed) the database at path and prepares the
// schema.
func Open(path string) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	m := &Manager{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeCh:
			op.result <- op.fn(m.db)
		case <-m.shutdown:
			// Drain queued writes so callers are not left blocked.
			for {
				select {
				case op := <-m.writeCh:
					op.result <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

// executeWrite queues a write operation and waits for it to commit.
func (m *Manager) executeWrite(fn func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeCh <- writeOp{fn: fn, result: result}:
		return <-result
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrClosed
	}
}

// Close stops the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	log.Debug().Msg("ledger closed")
	return m.db.Close()
}

// UpsertUser creates the user on first sight, otherwise overwrites the
// mutable display fields and touches last_seen. An empty bio leaves any
// stored bio in place.
func (m *Manager) UpsertUser(ctx context.Context, userID, userName, department, bio string) (*types.User, error) {
	now := time.Now().UTC()

	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (user_id, user_name, department, bio, is_active, created_at, last_seen)
			VALUES (?, ?, ?, NULLIF(?, ''), 1, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				user_name  = excluded.user_name,
				department = excluded.department,
				bio        = COALESCE(excluded.bio, users.bio),
				is_active  = 1,
				last_seen  = excluded.last_seen
		`, userID, userName, department, bio, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return m.GetUser(ctx, userID)
}

// GetUser returns the user record for userID, or ErrUserNotFound.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT user_id, user_name, department, COALESCE(bio, ''), is_active, created_at, last_seen
		FROM users WHERE user_id = ?
	`, userID)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// ListActiveUsers returns all users whose active flag is set.
func (m *Manager) ListActiveUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT user_id, user_name, department, COALESCE(bio, ''), is_active, created_at, last_seen
		FROM users WHERE is_active = 1 ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateMessage persists one user-authored message, assigning message_id and
// created_at server-side.
func (m *Manager) CreateMessage(ctx context.Context, userID, text, kind string) (*types.Message, error) {
	if kind == "" {
		kind = types.DefaultMessageKind
	}

	msg := &types.Message{
		MessageID: uuid.NewString(),
		Text:      text,
		Kind:      kind,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (message_id, text, message_kind, user_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, msg.MessageID, msg.Text, msg.Kind, msg.UserID, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

const messageColumns = `
	m.message_id, m.text, m.message_kind, m.user_id, m.created_at,
	COALESCE(u.user_name, ''), COALESCE(u.department, ''), COALESCE(u.bio, '')
`

// RecentMessages returns the most recently created messages, newest first,
// joined with the author's display fields.
func (m *Manager) RecentMessages(ctx context.Context, limit, offset int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.user_id = m.user_id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MessagesByUser returns one author's messages, newest first.
func (m *Manager) MessagesByUser(ctx context.Context, userID string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.user_id = m.user_id
		WHERE m.user_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by user: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// OpenSession records the start of one connection lifetime.
func (m *Manager) OpenSession(ctx context.Context, userID, connectionToken string) (*types.Session, error) {
	session := &types.Session{
		UserID:          userID,
		ConnectionToken: connectionToken,
		ConnectedAt:     time.Now().UTC(),
		Active:          true,
	}

	err := m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_sessions (user_id, connection_token, connected_at, is_active)
			VALUES (?, ?, ?, 1)
		`, session.UserID, session.ConnectionToken, session.ConnectedAt)
		if err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// CloseSession marks the matching open session inactive and stamps its
// disconnect time. Closing an unknown or already-closed token is a no-op.
func (m *Manager) CloseSession(ctx context.Context, connectionToken string) error {
	now := time.Now().UTC()

	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			UPDATE user_sessions
			SET is_active = 0, disconnected_at = ?
			WHERE connection_token = ? AND is_active = 1
		`, now, connectionToken)
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}

		return tx.Commit()
	})
}

// ListActiveSessions returns all sessions whose active flag is still set.
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT user_id, connection_token, connected_at, disconnected_at, is_active
		FROM user_sessions WHERE is_active = 1 ORDER BY connected_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		var s types.Session
		var disconnected sql.NullTime
		var active int
		if err := rows.Scan(&s.UserID, &s.ConnectionToken, &s.ConnectedAt, &disconnected, &active); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if disconnected.Valid {
			s.DisconnectedAt = &disconnected.Time
		}
		s.Active = active != 0
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*types.User, error) {
	var u types.User
	var active int
	var lastSeen sql.NullTime
	if err := row.Scan(&u.UserID, &u.UserName, &u.Department, &u.Bio, &active, &u.CreatedAt, &lastSeen); err != nil {
		return nil, err
	}
	u.Active = active != 0
	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}
	return &u, nil
}

func scanMessages(rows *sql.Rows) ([]*types.Message, error) {
	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.MessageID, &msg.Text, &msg.Kind, &msg.UserID, &msg.CreatedAt,
			&msg.UserName, &msg.Department, &msg.Bio); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}
