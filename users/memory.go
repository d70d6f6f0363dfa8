package users

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory implements an in-memory user store for testing and development.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewMemory creates a new in-memory user store.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]*User)}
}

// Get retrieves a user by id.
func (m *Memory) Get(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := *user
	return &u, nil
}

// List returns all users ordered by id.
func (m *Memory) List(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*User, 0, len(m.users))
	for _, user := range m.users {
		u := *user
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save stores or updates a user.
func (m *Memory) Save(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	u := *user
	m.users[user.ID] = &u
	return nil
}

// Close is a no-op for in-memory storage.
func (m *Memory) Close() error {
	return nil
}
