// Package auth coordinates the session lifecycle and role-gated account
// administration on top of an identity provider and the profile store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"example.com/youthcenter/internal/cache"
	"example.com/youthcenter/internal/domain"
	"example.com/youthcenter/internal/identity"
	"example.com/youthcenter/internal/persistence/postgres"
)

// Status is the coordinator's session state.
type Status string

const (
	StatusLoading       Status = "loading"
	StatusAnonymous     Status = "anonymous"
	StatusAuthenticated Status = "authenticated"
)

var (
	ErrAdminRequired    = errors.New("administrator privileges required")
	ErrSelfDelete       = errors.New("cannot delete the signed-in account")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ProfileStore is the slice of the relational store holding profile rows.
type ProfileStore interface {
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (domain.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (domain.Profile, error)
	InsertProfile(ctx context.Context, p domain.Profile) error
	UpdateProfile(ctx context.Context, p domain.Profile) error
	DeleteProfile(ctx context.Context, id string) error
}

// TokenCache persists the session token across restarts.
type TokenCache interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// Coordinator owns the current session and enforces the admin gate on
// every account-administration operation, regardless of how the call
// reached it.
type Coordinator struct {
	provider identity.Provider
	profiles ProfileStore
	tokens   TokenCache
	logger   *slog.Logger

	mu      stdsync.RWMutex
	status  Status
	session identity.Session
}

// NewCoordinator starts in StatusLoading; call Restore to settle the
// initial state.
func NewCoordinator(provider identity.Provider, profiles ProfileStore, tokens TokenCache, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		provider: provider,
		profiles: profiles,
		tokens:   tokens,
		logger:   logger.With(slog.String("component", "auth")),
		status:   StatusLoading,
	}
}

// Restore settles the initial session state from the persisted token.
// Any failure lands in StatusAnonymous; Restore itself never errors.
func (c *Coordinator) Restore(ctx context.Context) {
	payload, ok, err := c.tokens.Get(ctx, cache.KeySession)
	if err != nil {
		c.logger.Warn("session token read failed", slog.String("error", err.Error()))
	}
	if err != nil || !ok {
		c.setAnonymous()
		return
	}

	sess, err := c.provider.SessionFromToken(ctx, string(payload))
	if err != nil {
		c.logger.Info("auth_event",
			slog.String("event", "restore_rejected"),
			slog.String("error", err.Error()))
		_ = c.tokens.Delete(ctx, cache.KeySession)
		c.setAnonymous()
		return
	}

	c.enrichFromProfile(ctx, &sess)
	c.setAuthenticated(sess)
	c.logger.Info("auth_event",
		slog.String("event", "session_restored"),
		slog.String("username", sess.User.Username))
}

// Login authenticates against the provider. Unlike data operations, a
// provider failure here is a hard failure surfaced to the caller.
func (c *Coordinator) Login(ctx context.Context, username, password string) (domain.SessionUser, error) {
	sess, err := c.provider.SignIn(ctx, username, password)
	if err != nil {
		c.logger.Info("auth_event",
			slog.String("event", "login_failed"),
			slog.String("username", username))
		return domain.SessionUser{}, err
	}

	c.enrichFromProfile(ctx, &sess)
	if err := c.tokens.Put(ctx, cache.KeySession, []byte(sess.Token)); err != nil {
		c.logger.Warn("session token persist failed", slog.String("error", err.Error()))
	}
	c.setAuthenticated(sess)
	c.logger.Info("auth_event",
		slog.String("event", "login"),
		slog.String("username", sess.User.Username),
		slog.Bool("is_admin", sess.User.IsAdmin))
	return sess.User, nil
}

// Logout tears the session down locally even when the provider call fails.
func (c *Coordinator) Logout(ctx context.Context) {
	c.mu.RLock()
	token := c.session.Token
	username := c.session.User.Username
	c.mu.RUnlock()

	if token != "" {
		if err := c.provider.SignOut(ctx, token); err != nil {
			c.logger.Warn("provider sign-out failed", slog.String("error", err.Error()))
		}
	}
	if err := c.tokens.Delete(ctx, cache.KeySession); err != nil {
		c.logger.Warn("session token delete failed", slog.String("error", err.Error()))
	}
	c.setAnonymous()
	c.logger.Info("auth_event",
		slog.String("event", "logout"),
		slog.String("username", username))
}

// CurrentUser reports the session user and state.
func (c *Coordinator) CurrentUser() (domain.SessionUser, Status) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.User, c.status
}

// Status reports the session state alone.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SessionFromToken validates a bearer token without touching the
// coordinator's own session. Transport middleware uses it per request.
func (c *Coordinator) SessionFromToken(ctx context.Context, token string) (domain.SessionUser, error) {
	sess, err := c.provider.SessionFromToken(ctx, token)
	if err != nil {
		return domain.SessionUser{}, err
	}
	c.enrichFromProfile(ctx, &sess)
	return sess.User, nil
}

// FetchUsers lists every profile. Admin only.
func (c *Coordinator) FetchUsers(ctx context.Context, actor domain.SessionUser) ([]domain.Profile, error) {
	if !actor.IsAdmin {
		return nil, ErrAdminRequired
	}
	return c.profiles.ListProfiles(ctx)
}

// CreateUser provisions an account with the provider and mirrors it into
// the profile store. Username and email are checked up front so a
// collision fails before the provider round trip, with the field-specific
// sentinel.
func (c *Coordinator) CreateUser(ctx context.Context, actor domain.SessionUser, u identity.NewUser) (domain.Profile, error) {
	if !actor.IsAdmin {
		return domain.Profile{}, ErrAdminRequired
	}

	if _, err := c.profiles.GetProfileByUsername(ctx, u.Username); err == nil {
		return domain.Profile{}, identity.ErrUsernameTaken
	} else if !errors.Is(err, postgres.ErrNotFound) {
		return domain.Profile{}, err
	}
	if u.Email != "" {
		if _, err := c.profiles.GetProfileByEmail(ctx, u.Email); err == nil {
			return domain.Profile{}, identity.ErrEmailTaken
		} else if !errors.Is(err, postgres.ErrNotFound) {
			return domain.Profile{}, err
		}
	}

	id, err := c.provider.CreateUser(ctx, u)
	if err != nil {
		return domain.Profile{}, err
	}

	profile := domain.Profile{
		ID:       id,
		Username: u.Username,
		Email:    u.Email,
		Phone:    u.Phone,
		IsAdmin:  u.IsAdmin,
	}
	if err := c.profiles.InsertProfile(ctx, profile); err != nil {
		// A failed mirror must not strand a provider-only account.
		if delErr := c.provider.DeleteUser(ctx, id); delErr != nil {
			c.logger.Warn("orphaned identity account after mirror failure",
				slog.String("user_id", id),
				slog.String("error", delErr.Error()))
		}
		return domain.Profile{}, fmt.Errorf("mirror profile for %s: %w", u.Username, err)
	}
	c.logger.Info("auth_event",
		slog.String("event", "user_created"),
		slog.String("username", u.Username),
		slog.String("actor", actor.Username))
	profile.CreatedAt = time.Now()
	profile.UpdatedAt = profile.CreatedAt
	return profile, nil
}

// UpdateUser edits a profile and optionally rotates its password. A
// username change is checked for collision against other accounts.
func (c *Coordinator) UpdateUser(ctx context.Context, actor domain.SessionUser, p domain.Profile, newPassword string) error {
	if !actor.IsAdmin {
		return ErrAdminRequired
	}

	if existing, err := c.profiles.GetProfileByUsername(ctx, p.Username); err == nil {
		if existing.ID != p.ID {
			return identity.ErrUsernameTaken
		}
	} else if !errors.Is(err, postgres.ErrNotFound) {
		return err
	}

	if err := c.profiles.UpdateProfile(ctx, p); err != nil {
		return err
	}
	if newPassword != "" {
		if err := c.provider.SetPassword(ctx, p.ID, newPassword); err != nil {
			return fmt.Errorf("set password for %s: %w", p.Username, err)
		}
	}
	c.logger.Info("auth_event",
		slog.String("event", "user_updated"),
		slog.String("username", p.Username),
		slog.String("actor", actor.Username))
	return nil
}

// DeleteUser removes an account. The self-deletion guard runs before the
// admin gate so an admin deleting themselves gets the specific error.
func (c *Coordinator) DeleteUser(ctx context.Context, actor domain.SessionUser, userID string) error {
	if userID == actor.ID {
		return ErrSelfDelete
	}
	if !actor.IsAdmin {
		return ErrAdminRequired
	}

	if err := c.provider.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if err := c.profiles.DeleteProfile(ctx, userID); err != nil {
		return err
	}
	c.logger.Info("auth_event",
		slog.String("event", "user_deleted"),
		slog.String("user_id", userID),
		slog.String("actor", actor.Username))
	return nil
}

// Watch logs identity events from the provider until ctx is cancelled.
func (c *Coordinator) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.provider.Events():
			if !ok {
				return
			}
			c.logger.Info("auth_event",
				slog.String("event", string(ev.Kind)),
				slog.String("username", ev.User.Username))
		}
	}
}

// enrichFromProfile overlays stored profile data on the session user.
// The profile store being unreachable is not fatal; the token's claims
// stand on their own.
func (c *Coordinator) enrichFromProfile(ctx context.Context, sess *identity.Session) {
	profile, err := c.profiles.GetProfile(ctx, sess.User.ID)
	if err != nil {
		if !errors.Is(err, postgres.ErrNotFound) {
			c.logger.Warn("profile enrichment failed", slog.String("error", err.Error()))
		}
		return
	}
	sess.User.Username = profile.Username
	sess.User.IsAdmin = profile.IsAdmin
}

func (c *Coordinator) setAnonymous() {
	c.mu.Lock()
	c.status = StatusAnonymous
	c.session = identity.Session{}
	c.mu.Unlock()
}

func (c *Coordinator) setAuthenticated(sess identity.Session) {
	c.mu.Lock()
	c.status = StatusAuthenticated
	c.session = sess
	c.mu.Unlock()
}
