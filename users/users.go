// Package users exposes the family-account user store the notification
// subsystem consumes: identity lookup by id and the admin role check.
package users

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// Role distinguishes the account types of the family-account backend.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
	RoleAdmin  Role = "admin"
)

// User is a family-account user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user may trigger notification sends.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Store is the user store interface. The wider backend owns user CRUD; the
// notification subsystem only reads from it.
type Store interface {
	// Get retrieves a user by id.
	Get(ctx context.Context, id string) (*User, error)

	// List returns all users.
	List(ctx context.Context) ([]*User, error)

	// Save stores or updates a user.
	Save(ctx context.Context, user *User) error

	// Close closes the store.
	Close() error
}
