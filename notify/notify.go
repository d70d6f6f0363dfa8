// Package notify implements notification fan-out for the family-account
// backend: the delivery engine that pushes one payload to a set of device
// subscriptions, and the coordinator that request handlers call to send to
// one or many users.
//
// Delivery is at-most-once. A failed attempt is recorded in the result set
// and never retried within the same operation; callers that need
// retry-with-backoff must resubmit the send themselves.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lira-edu/lira-backend/storage"
)

var (
	// ErrForbidden is returned when the caller is not an administrator.
	ErrForbidden = errors.New("caller is not an administrator")

	// ErrNoSubscriptions is returned when the target user has no registered
	// devices.
	ErrNoSubscriptions = errors.New("no active subscriptions")

	// ErrValidation is returned for malformed send requests. Errors wrapping
	// it name the missing field.
	ErrValidation = errors.New("invalid request")
)

// DefaultIcon is used for the payload icon and badge when the caller leaves
// them empty.
const DefaultIcon = "/lira.png"

// Payload is the notification content, shared read-only across every
// delivery attempt of one send operation.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon"`
	Badge string         `json:"badge"`
	Data  map[string]any `json:"data"`
}

// Validate checks the required fields and fills in defaults.
func (p *Payload) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if p.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if p.Icon == "" {
		p.Icon = DefaultIcon
	}
	if p.Badge == "" {
		p.Badge = DefaultIcon
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	return nil
}

// Marshal renders the payload as the JSON document delivered to browsers.
func (p *Payload) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return data, nil
}

// Result is the outcome of one delivery attempt for one subscription.
// Results are never persisted; the coordinator consumes them immediately.
type Result struct {
	SubscriptionID string          `json:"subscriptionId"`
	UserID         string          `json:"userId"`
	Channel        storage.Channel `json:"channel"`
	Endpoint       string          `json:"endpoint,omitempty"`
	PlayerID       string          `json:"playerId,omitempty"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
}

// Summary aggregates the delivery results of one send operation.
type Summary struct {
	Sent    int      `json:"sent"`
	Total   int      `json:"total"`
	Users   int      `json:"users"`
	Results []Result `json:"results"`
}

func summarize(results []Result, userCount int) *Summary {
	s := &Summary{
		Total:   len(results),
		Users:   userCount,
		Results: results,
	}
	for _, r := range results {
		if r.Success {
			s.Sent++
		}
	}
	return s
}
