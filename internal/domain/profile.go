package domain

import "time"

// Profile is the stored representation of an authenticated principal.
// The identifier matches the identity provider's subject id.
type Profile struct {
	ID        string
	Username  string
	Email     string
	Phone     string
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionUser is the narrowed projection of the currently authenticated
// principal held for the duration of a session.
type SessionUser struct {
	ID       string
	Username string
	IsAdmin  bool
}
