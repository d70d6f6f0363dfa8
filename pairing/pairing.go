// Package pairing issues short-lived device pairing codes: a parent mints a
// code, a child device claims it once to learn which account to attach to.
//
// Codes live in a time-bounded key-value store with explicit expiry, never
// in a process-lifetime map, so unclaimed codes cannot accumulate.
package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCodeNotFound is returned when a code does not exist, was already
// claimed, or has expired. The three cases are indistinguishable on purpose.
var ErrCodeNotFound = errors.New("pairing code not found or expired")

// Store holds pairing codes until they are claimed or expire.
type Store interface {
	// Put stores a code for the user with the given time to live.
	Put(ctx context.Context, code, userID string, ttl time.Duration) error

	// Claim resolves a code to its user id and consumes it. A code can be
	// claimed at most once.
	Claim(ctx context.Context, code string) (string, error)

	// Close closes the store.
	Close() error
}

// codeAlphabet avoids characters that read ambiguously on a child's screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// codeLength is the number of characters in a pairing code.
const codeLength = 8

// NewCode generates a random pairing code.
func NewCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating pairing code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// Memory implements an in-memory pairing store for testing and development.
type Memory struct {
	mu    sync.Mutex
	codes map[string]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	userID    string
	expiresAt time.Time
}

// NewMemory creates a new in-memory pairing store.
func NewMemory() *Memory {
	return &Memory{
		codes: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

// Put stores a code for the user with the given time to live.
func (m *Memory) Put(_ context.Context, code, userID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeLocked()
	m.codes[code] = memoryEntry{
		userID:    userID,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Claim resolves a code to its user id and consumes it.
func (m *Memory) Claim(_ context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.codes[code]
	if !ok || m.now().After(entry.expiresAt) {
		delete(m.codes, code)
		return "", ErrCodeNotFound
	}
	delete(m.codes, code)
	return entry.userID, nil
}

// Close is a no-op for in-memory storage.
func (m *Memory) Close() error {
	return nil
}

// purgeLocked drops expired codes. Callers hold the lock.
func (m *Memory) purgeLocked() {
	now := m.now()
	for code, entry := range m.codes {
		if now.After(entry.expiresAt) {
			delete(m.codes, code)
		}
	}
}
