package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/lira-edu/lira-backend/storage"
	"github.com/lira-edu/lira-backend/users"
)

// Coordinator is the request-facing layer: it resolves target users into
// their subscription sets, delegates to the delivery engine, and aggregates
// a summary.
type Coordinator struct {
	users  users.Store
	subs   storage.Storage
	engine *Engine
}

// NewCoordinator creates a fan-out coordinator.
func NewCoordinator(userStore users.Store, subs storage.Storage, engine *Engine) *Coordinator {
	return &Coordinator{
		users:  userStore,
		subs:   subs,
		engine: engine,
	}
}

// SendToUser delivers the payload to every device of one user.
//
// It returns ErrForbidden if the caller is not an administrator,
// ErrValidation for a malformed payload, and ErrNoSubscriptions when the
// target has no registered devices. All three abort before any delivery
// attempt. Otherwise the summary is always returned, even when every
// attempt failed.
func (c *Coordinator) SendToUser(ctx context.Context, callerID, targetID string, payload *Payload) (*Summary, error) {
	if err := c.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if targetID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}

	subs, err := c.subs.GetByUser(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions for %s: %w", targetID, err)
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}

	results := c.engine.Deliver(ctx, subs, payload)
	summary := summarize(results, 1)
	clog.InfoContextf(ctx, "notification sent to %d of %d devices of user %s", summary.Sent, summary.Total, targetID)
	return summary, nil
}

// SendToMany delivers the payload to every device of every target user.
//
// Subscriptions of all targets are pooled into one engine call so mobile
// player IDs across users share a single provider batch. A target with no
// subscriptions is skipped, not an error; a send where no target has any
// device simply reports 0 of 0.
func (c *Coordinator) SendToMany(ctx context.Context, callerID string, targetIDs []string, payload *Payload) (*Summary, error) {
	if err := c.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	if len(targetIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one target userId is required", ErrValidation)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	var pooled []*storage.Record
	for _, targetID := range targetIDs {
		subs, err := c.subs.GetByUser(ctx, targetID)
		if err != nil {
			return nil, fmt.Errorf("loading subscriptions for %s: %w", targetID, err)
		}
		pooled = append(pooled, subs...)
	}

	results := c.engine.Deliver(ctx, pooled, payload)
	summary := summarize(results, len(targetIDs))
	clog.InfoContextf(ctx, "notification sent to %d of %d devices across %d users", summary.Sent, summary.Total, summary.Users)
	return summary, nil
}

// requireAdmin resolves the caller and checks the admin role against the
// user store. The role is never trusted from the request itself.
func (c *Coordinator) requireAdmin(ctx context.Context, callerID string) error {
	caller, err := c.users.Get(ctx, callerID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return ErrForbidden
		}
		return fmt.Errorf("resolving caller %s: %w", callerID, err)
	}
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
