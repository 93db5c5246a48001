// Package identity abstracts where user accounts and sessions live: a
// remote identity service or a self-contained local provider backed by
// the durable cache.
package identity

import (
	"context"
	"errors"
	"time"

	"example.com/youthcenter/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already taken")
	ErrInvalidSession     = errors.New("invalid session")
)

// Session is an authenticated session held by a caller.
type Session struct {
	Token     string
	User      domain.SessionUser
	ExpiresAt time.Time
}

// NewUser is the input for account creation.
type NewUser struct {
	Username string
	Email    string
	Phone    string
	Password string
	IsAdmin  bool
}

// EventKind labels identity state transitions.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
)

// Event is an identity state transition observed by the provider.
type Event struct {
	Kind EventKind
	User domain.SessionUser
}

// Provider is the identity backend. Implementations must map backend
// conflicts onto ErrUsernameTaken and ErrEmailTaken so callers can react
// uniformly.
type Provider interface {
	SignIn(ctx context.Context, username, password string) (Session, error)
	SignOut(ctx context.Context, token string) error
	SessionFromToken(ctx context.Context, token string) (Session, error)
	CreateUser(ctx context.Context, u NewUser) (string, error)
	SetPassword(ctx context.Context, userID, password string) error
	DeleteUser(ctx context.Context, userID string) error
	Events() <-chan Event
}
