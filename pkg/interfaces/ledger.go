// Package interfaces defines the seams between the connection-lifecycle
// components and their collaborators.
package interfaces

import (
	"context"

	"nightingale/pkg/types"
)

// Ledger is the durable-storage facade for users, messages and sessions.
// Every mutating call commits atomically before returning.
type Ledger interface {
	UpsertUser(ctx context.Context, userID, userName, department, bio string) (*types.User, error)
	GetUser(ctx context.Context, userID string) (*types.User, error)
	ListActiveUsers(ctx context.Context) ([]*types.User, error)

	CreateMessage(ctx context.Context, userID, text, kind string) (*types.Message, error)
	RecentMessages(ctx context.Context, limit, offset int) ([]*types.Message, error)
	MessagesByUser(ctx context.Context, userID string, limit int) ([]*types.Message, error)

	OpenSession(ctx context.Context, userID, connectionToken string) (*types.Session, error)
	CloseSession(ctx context.Context, connectionToken string) error
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)
}
