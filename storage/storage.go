// Package storage provides the device subscription registry: a persistent
// table of web and mobile push subscriptions keyed by user.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lira-edu/lira-backend/webpush"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("subscription not found")

// ErrInvalid is returned when a subscription is missing a field its channel
// requires. Errors wrapping it name the missing field.
var ErrInvalid = errors.New("invalid subscription")

// Channel discriminates the two subscription shapes.
type Channel string

const (
	// ChannelWeb is a browser push subscription (endpoint + encryption keys).
	ChannelWeb Channel = "web"
	// ChannelMobile is a mobile push-provider subscription (player ID).
	ChannelMobile Channel = "mobile"
)

// Platform identifies the device platform of a mobile subscription.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Mobile is the channel-specific payload of a mobile subscription.
type Mobile struct {
	PlayerID string   `json:"playerId"`
	Platform Platform `json:"platform"`
}

// Record is one device's registration to receive pushes for one user
// account. Exactly one of Web or Mobile is set, matching Channel.
type Record struct {
	ID        string                `json:"id"`
	UserID    string                `json:"user_id"`
	Channel   Channel               `json:"channel"`
	Web       *webpush.Subscription `json:"web,omitempty"`
	Mobile    *Mobile               `json:"mobile,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// NewWebRecord builds a validated web subscription record.
func NewWebRecord(userID string, sub *webpush.Subscription) (*Record, error) {
	r := &Record{
		ID:      uuid.New().String(),
		UserID:  userID,
		Channel: ChannelWeb,
		Web:     sub,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewMobileRecord builds a validated mobile subscription record. An empty
// platform defaults to android.
func NewMobileRecord(userID, playerID string, platform Platform) (*Record, error) {
	if platform == "" {
		platform = PlatformAndroid
	}
	r := &Record{
		ID:      uuid.New().String(),
		UserID:  userID,
		Channel: ChannelMobile,
		Mobile:  &Mobile{PlayerID: playerID, Platform: platform},
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the union exhaustively: a record must carry exactly the
// fields its channel requires. Malformed records are rejected here, before
// they reach storage, so the delivery engine never sees them.
func (r *Record) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	switch r.Channel {
	case ChannelWeb:
		if r.Mobile != nil {
			return fmt.Errorf("%w: web subscription carries a mobile payload", ErrInvalid)
		}
		if r.Web == nil {
			return fmt.Errorf("%w: web subscription requires endpoint and keys", ErrInvalid)
		}
		if err := r.Web.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	case ChannelMobile:
		if r.Web != nil {
			return fmt.Errorf("%w: mobile subscription carries a web payload", ErrInvalid)
		}
		if r.Mobile == nil || r.Mobile.PlayerID == "" {
			return fmt.Errorf("%w: mobile subscription requires a player id", ErrInvalid)
		}
		if r.Mobile.Platform != PlatformAndroid && r.Mobile.Platform != PlatformIOS {
			return fmt.Errorf("%w: unknown platform %q", ErrInvalid, r.Mobile.Platform)
		}
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalid, r.Channel)
	}
	return nil
}

// Storage defines the subscription registry interface.
//
// Upserts are keyed by (user, endpoint) for web and (user, playerId) for
// mobile: re-registering with the same key replaces the stored record
// instead of duplicating it.
type Storage interface {
	// UpsertWeb stores or refreshes a web subscription for the user.
	UpsertWeb(ctx context.Context, userID string, sub *webpush.Subscription) (*Record, error)

	// UpsertMobile stores or refreshes a mobile subscription for the user.
	UpsertMobile(ctx context.Context, userID, playerID string, platform Platform) (*Record, error)

	// DeleteMobile removes the matching mobile subscription. Deleting a
	// subscription that does not exist is not an error.
	DeleteMobile(ctx context.Context, userID, playerID string) error

	// GetByUser retrieves all subscriptions for a user, any channel.
	GetByUser(ctx context.Context, userID string) ([]*Record, error)

	// Delete removes a subscription by ID. The delivery engine uses this to
	// prune subscriptions the transport reports as permanently gone.
	Delete(ctx context.Context, id string) error

	// CountByUser returns the number of subscriptions stored for a user.
	CountByUser(ctx context.Context, userID string) (int, error)

	// List returns all subscriptions with pagination.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Close closes the storage connection.
	Close() error
}
