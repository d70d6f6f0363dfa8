package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lira-edu/lira-backend/webpush"
)

// Memory implements in-memory storage for testing and development.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemory creates a new in-memory storage.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*Record),
	}
}

// UpsertWeb stores or refreshes a web subscription keyed by (user, endpoint).
func (m *Memory) UpsertWeb(_ context.Context, userID string, sub *webpush.Subscription) (*Record, error) {
	record, err := NewWebRecord(userID, sub)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, existing := range m.records {
		if existing.Channel == ChannelWeb && existing.UserID == userID && existing.Web.Endpoint == sub.Endpoint {
			// Re-registration: replace key material, keep identity.
			existing.Web.Keys = sub.Keys
			existing.UpdatedAt = now
			return copyRecord(existing), nil
		}
	}

	record.CreatedAt = now
	record.UpdatedAt = now
	m.records[record.ID] = copyRecord(record)
	return record, nil
}

// UpsertMobile stores or refreshes a mobile subscription keyed by
// (user, playerId).
func (m *Memory) UpsertMobile(_ context.Context, userID, playerID string, platform Platform) (*Record, error) {
	record, err := NewMobileRecord(userID, playerID, platform)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, existing := range m.records {
		if existing.Channel == ChannelMobile && existing.UserID == userID && existing.Mobile.PlayerID == playerID {
			existing.Mobile.Platform = record.Mobile.Platform
			existing.UpdatedAt = now
			return copyRecord(existing), nil
		}
	}

	record.CreatedAt = now
	record.UpdatedAt = now
	m.records[record.ID] = copyRecord(record)
	return record, nil
}

// DeleteMobile removes the matching mobile subscription if present.
func (m *Memory) DeleteMobile(_ context.Context, userID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, record := range m.records {
		if record.Channel == ChannelMobile && record.UserID == userID && record.Mobile.PlayerID == playerID {
			delete(m.records, id)
			return nil
		}
	}
	// Idempotent: absence is not an error.
	return nil
}

// GetByUser retrieves all subscriptions for a user.
func (m *Memory) GetByUser(_ context.Context, userID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Record
	for _, record := range m.records {
		if record.UserID == userID {
			results = append(results, copyRecord(record))
		}
	}
	return results, nil
}

// Delete removes a subscription by ID.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// CountByUser returns the number of subscriptions stored for a user.
func (m *Memory) CountByUser(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, record := range m.records {
		if record.UserID == userID {
			count++
		}
	}
	return count, nil
}

// List returns all subscriptions with pagination.
func (m *Memory) List(_ context.Context, limit, offset int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Record
	for _, record := range m.records {
		all = append(all, record)
	}
	// Map iteration order is random; pages fetched by separate calls must
	// not overlap, so impose the same ordering the SQLite backend uses.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	results := make([]*Record, 0, end-offset)
	for i := offset; i < end; i++ {
		results = append(results, copyRecord(all[i]))
	}
	return results, nil
}

// Close is a no-op for in-memory storage.
func (m *Memory) Close() error {
	return nil
}

// copyRecord deep-copies a record so callers cannot mutate stored state.
func copyRecord(r *Record) *Record {
	out := &Record{
		ID:        r.ID,
		UserID:    r.UserID,
		Channel:   r.Channel,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Web != nil {
		out.Web = &webpush.Subscription{
			Endpoint: r.Web.Endpoint,
			Keys:     r.Web.Keys,
		}
	}
	if r.Mobile != nil {
		out.Mobile = &Mobile{
			PlayerID: r.Mobile.PlayerID,
			Platform: r.Mobile.Platform,
		}
	}
	return out
}
