// Package broadcast implements the fan-out of one payload to every other
// registered connection, with selective persistence of user-authored chat.
package broadcast

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"nightingale/internal/metrics"
	"nightingale/internal/registry"
	"nightingale/pkg/interfaces"
	"nightingale/pkg/types"
)

// Broadcaster delivers payloads across a registry snapshot and persists
// chat-kind payloads through the ledger.
type Broadcaster struct {
	registry *registry.Registry
	ledger   interfaces.Ledger
}

// New creates a broadcaster over the given registry and ledger.
func New(reg *registry.Registry, led interfaces.Ledger) *Broadcaster {
	return &Broadcaster{registry: reg, ledger: led}
}

// Broadcast persists env when requested, then delivers it to every
// registered connection except excludeUserID (pass "" to exclude nobody).
//
// Persistence happens before any delivery. A payload that is not chat-shaped
// is silently not persisted; a ledger failure aborts the broadcast and is
// returned so the sender can be told the message was not saved. A delivery
// failure on one recipient is absorbed: it never stops delivery to the rest
// and never mutates the registry.
func (b *Broadcaster) Broadcast(ctx context.Context, env types.Envelope, excludeUserID string, persist bool) error {
	if persist {
		if err := b.persistChat(ctx, env); err != nil {
			return err
		}
	}

	for _, entry := range b.registry.Snapshot() {
		if entry.UserID == excludeUserID {
			continue
		}
		if err := entry.Handle.WriteJSON(env); err != nil {
			metrics.DeliveryFailuresTotal.Inc()
			log.Debug().Err(err).Str("user", entry.UserID).Msg("delivery failed, skipping recipient")
		}
	}

	return nil
}

// persistChat stores env if it declares the chat kind and carries non-empty
// text. Anything else is "nothing to persist", not an error.
func (b *Broadcaster) persistChat(ctx context.Context, env types.Envelope) error {
	if env.Kind() != types.KindChat {
		return nil
	}
	text, ok := env.Text()
	if !ok || text == "" {
		return nil
	}

	author, ok := env.StringField("user_id")
	if !ok {
		author = "system"
	}
	kind, _ := env.StringField("message_type")

	if _, err := b.ledger.CreateMessage(ctx, author, text, kind); err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}

	metrics.WsMessagesTotal.Inc()
	return nil
}

// OnlineUser is the projection of one live connection enriched from the
// ledger.
type OnlineUser struct {
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	Department string `json:"department"`
}

// OnlineUsers lists every registered user. The registry decides who is
// online; the ledger only enriches display fields. Users the ledger does not
// know fall back to their identifier and an "Unknown" department.
func (b *Broadcaster) OnlineUsers(ctx context.Context) ([]OnlineUser, int) {
	entries := b.registry.Snapshot()
	users := make([]OnlineUser, 0, len(entries))

	for _, entry := range entries {
		user, err := b.ledger.GetUser(ctx, entry.UserID)
		if err != nil {
			users = append(users, OnlineUser{
				UserID:     entry.UserID,
				UserName:   entry.UserID,
				Department: "Unknown",
			})
			continue
		}
		users = append(users, OnlineUser{
			UserID:     user.UserID,
			UserName:   user.UserName,
			Department: user.Department,
		})
	}

	return users, len(entries)
}
