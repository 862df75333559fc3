// Package session owns the connect/disconnect lifecycle: admission,
// presence in the registry, durability in the ledger, and the message path
// between them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"nightingale/internal/broadcast"
	"nightingale/internal/metrics"
	"nightingale/internal/ratelimit"
	"nightingale/internal/registry"
	"nightingale/pkg/interfaces"
	"nightingale/pkg/security"
	"nightingale/pkg/types"
)

const (
	maxTextLength    = 1000
	maxProfileLength = 200
)

// Limits holds the admission budgets for the two rate-limited paths.
type Limits struct {
	ConnMaxRequests int
	ConnWindow      time.Duration
	MsgMaxRequests  int
	MsgWindow       time.Duration
}

// DefaultLimits matches the deployed budgets: 5 connection attempts and 20
// messages per 60-second window.
func DefaultLimits() Limits {
	return Limits{
		ConnMaxRequests: 5,
		ConnWindow:      60 * time.Second,
		MsgMaxRequests:  20,
		MsgWindow:       60 * time.Second,
	}
}

// Coordinator drives each connection through
// Disconnected -> Connecting -> Connected -> Disconnected. All shared state
// it touches (registry, limiter) is injected and lock-guarded; ledger calls
// are the suspension points and never run under a registry lock.
type Coordinator struct {
	registry    *registry.Registry
	ledger      interfaces.Ledger
	broadcaster *broadcast.Broadcaster
	limiter     *ratelimit.Limiter
	limits      Limits
}

// NewCoordinator wires the coordinator over its collaborators.
func NewCoordinator(reg *registry.Registry, led interfaces.Ledger, b *broadcast.Broadcaster, lim *ratelimit.Limiter, limits Limits) *Coordinator {
	return &Coordinator{
		registry:    reg,
		ledger:      led,
		broadcaster: b,
		limiter:     lim,
		limits:      limits,
	}
}

// Client is one connection instance moving through the state machine.
type Client struct {
	UserID string
	Token  string

	handle         interfaces.Handle
	disconnectOnce sync.Once
}

// Admit validates the identifier and applies the connection-admission rate
// check. It mutates no registry or ledger state, so a refusal can be turned
// into a transport close before the connection ever exists.
func (c *Coordinator) Admit(userID, clientAddr string) error {
	if !types.IsValidUserID(userID) {
		return types.ErrInvalidIdentifier
	}

	key := "conn:" + clientAddr + ":" + userID
	if !c.limiter.Admit(key, c.limits.ConnMaxRequests, c.limits.ConnWindow) {
		metrics.RateLimitedTotal.WithLabelValues("connection").Inc()
		return types.ErrRateLimited
	}

	return nil
}

// Connect accepts an admitted transport handle: registry entry, user upsert,
// fresh connection token, session row, then a join notice to everyone else.
// On a ledger failure the registry entry is rolled back and the error
// returned; the caller closes the transport.
func (c *Coordinator) Connect(ctx context.Context, userID string, handle interfaces.Handle) (*Client, error) {
	client := &Client{
		UserID: userID,
		Token:  uuid.NewString(),
		handle: handle,
	}

	// Last-connect-wins: a displaced handle is closed here, but only its own
	// disconnect path closes its session row.
	if displaced := c.registry.Put(userID, handle); displaced != nil {
		log.Info().Str("user", userID).Msg("replacing existing connection")
		go func() {
			if err := displaced.Close(); err != nil {
				log.Debug().Err(err).Str("user", userID).Msg("failed to close displaced connection")
			}
		}()
	}

	if _, err := c.ledger.UpsertUser(ctx, userID, userID, "Unknown", ""); err != nil {
		c.registry.Remove(userID, handle)
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	if _, err := c.ledger.OpenSession(ctx, userID, client.Token); err != nil {
		c.registry.Remove(userID, handle)
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	metrics.WsConnections.Inc()
	log.Info().Str("user", userID).Int("online", c.registry.Count()).Msg("user connected")

	notice := types.SystemNotice(types.KindUserJoined, userID,
		fmt.Sprintf("User %s joined the chat", userID), time.Now())
	_ = c.broadcaster.Broadcast(ctx, notice, userID, false)

	return client, nil
}

// HandleInbound processes one raw frame from the client's receive loop.
// Every failure here is recoverable: the sender gets an in-band error notice
// and stays connected.
func (c *Coordinator) HandleInbound(ctx context.Context, client *Client, data []byte) {
	if !c.limiter.Admit("msg:"+client.UserID, c.limits.MsgMaxRequests, c.limits.MsgWindow) {
		metrics.RateLimitedTotal.WithLabelValues("message").Inc()
		c.notifyError(client, "Rate limit exceeded. Please slow down.")
		return
	}

	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env == nil {
		c.notifyError(client, "Invalid message format")
		return
	}

	if text, ok := env.Text(); ok {
		if err := types.ValidateText(text); err != nil {
			c.notifyError(client, "Message too long or empty")
			return
		}
		env["text"] = security.Sanitize(text, maxTextLength)
		if env.Kind() == "" {
			env["type"] = types.KindChat
		}
	}

	c.applyProfileUpdate(ctx, client.UserID, env)

	env.Stamp(client.UserID, time.Now())

	if err := c.broadcaster.Broadcast(ctx, env, client.UserID, true); err != nil {
		if errors.Is(err, types.ErrPersistence) {
			log.Error().Err(err).Str("user", client.UserID).Msg("message persistence failed")
			c.notifyError(client, "Message could not be saved. Please try again.")
			return
		}
		log.Error().Err(err).Str("user", client.UserID).Msg("broadcast failed")
	}
}

// Disconnect runs the teardown path exactly once per connection instance,
// no matter how many paths race into it: registry removal, session close,
// then a leave notice to the remaining connections.
func (c *Coordinator) Disconnect(ctx context.Context, client *Client) {
	client.disconnectOnce.Do(func() {
		removed := c.registry.Remove(client.UserID, client.handle)

		if err := c.ledger.CloseSession(ctx, client.Token); err != nil {
			log.Error().Err(err).Str("user", client.UserID).Msg("failed to close session")
		}

		metrics.WsConnections.Dec()
		log.Info().Str("user", client.UserID).Int("online", c.registry.Count()).Msg("user disconnected")

		// A displaced connection still closes its own session row, but the
		// user is online through the replacement, so no leave is announced.
		if !removed {
			return
		}

		notice := types.SystemNotice(types.KindUserLeft, client.UserID,
			fmt.Sprintf("User %s left the chat", client.UserID), time.Now())
		_ = c.broadcaster.Broadcast(ctx, notice, "", false)
	})
}

// applyProfileUpdate upserts sanitized profile fields carried on a message.
// Missing fields keep their stored values.
func (c *Coordinator) applyProfileUpdate(ctx context.Context, userID string, env types.Envelope) {
	name, hasName := env.StringField("user_name")
	department, hasDept := env.StringField("department")
	bio, hasBio := env.StringField("bio")
	if !hasName && !hasDept && !hasBio {
		return
	}

	current, err := c.ledger.GetUser(ctx, userID)
	if err != nil {
		log.Debug().Err(err).Str("user", userID).Msg("profile update skipped, user lookup failed")
		return
	}

	if hasName {
		current.UserName = security.Sanitize(name, maxProfileLength)
		env["user_name"] = current.UserName
	}
	if hasDept {
		current.Department = security.Sanitize(department, maxProfileLength)
		env["department"] = current.Department
	}
	if hasBio {
		current.Bio = security.Sanitize(bio, maxTextLength)
		env["bio"] = current.Bio
	}

	if _, err := c.ledger.UpsertUser(ctx, userID, current.UserName, current.Department, current.Bio); err != nil {
		log.Error().Err(err).Str("user", userID).Msg("profile update failed")
	}
}

func (c *Coordinator) notifyError(client *Client, reason string) {
	if err := client.handle.WriteJSON(types.ErrorNotice(reason)); err != nil {
		log.Debug().Err(err).Str("user", client.UserID).Msg("failed to send error notice")
	}
}
