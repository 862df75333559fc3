package ledger

import (
	"database/sql"
	"fmt"
)

// SQLite pragmas applied at startup. WAL keeps reads concurrent while the
// manager funnels writes through a single goroutine.
const sqlitePragmas = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL UNIQUE,
	user_name   TEXT NOT NULL,
	department  TEXT NOT NULL,
	bio         TEXT,
	is_active   INTEGER NOT NULL DEFAULT 1,
	created_at  DATETIME NOT NULL,
	last_seen   DATETIME
);

CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id    TEXT NOT NULL UNIQUE,
	text          TEXT NOT NULL,
	message_kind  TEXT NOT NULL DEFAULT 'text',
	user_id       TEXT NOT NULL REFERENCES users(user_id),
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_sessions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id           TEXT NOT NULL REFERENCES users(user_id),
	connection_token  TEXT NOT NULL,
	connected_at      DATETIME NOT NULL,
	disconnected_at   DATETIME,
	is_active         INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_users_active          ON users(is_active);
CREATE INDEX IF NOT EXISTS idx_messages_created_at   ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_user         ON messages(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_token        ON user_sessions(connection_token);
CREATE INDEX IF NOT EXISTS idx_sessions_active       ON user_sessions(is_active);
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(sqlitePragmas); err != nil {
		return fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
