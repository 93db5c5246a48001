package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const userKeyPrefix = "user:"

// DefaultAdminUsername and DefaultAdminPassword seed the first account of
// a fresh local installation. The operator is expected to change them.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin"
)

// localStore is the slice of the durable cache the local provider needs.
type localStore interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}

type localUser struct {
	ID      string `json:"id"`
	Hash    string `json:"hash"`
	IsAdmin bool   `json:"isAdmin"`
}

// LocalProvider keeps credentials in the durable cache and issues HS256
// session tokens. It serves installations with no reachable identity
// service.
type LocalProvider struct {
	store  localStore
	secret []byte
	issuer string
	ttl    time.Duration
	logger *slog.Logger
	events chan Event
	now    func() time.Time
}

// NewLocalProvider bootstraps the provider and seeds the default admin
// account when no accounts exist yet.
func NewLocalProvider(ctx context.Context, store localStore, secret, issuer string, ttl time.Duration, logger *slog.Logger) (*LocalProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &LocalProvider{
		store:  store,
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "identity.local")),
		events: make(chan Event, 8),
		now:    time.Now,
	}
	if err := p.seedDefaultAdmin(ctx); err != nil {
		return nil, fmt.Errorf("seed default admin: %w", err)
	}
	return p, nil
}

func (p *LocalProvider) seedDefaultAdmin(ctx context.Context) error {
	existing, err := p.store.List(ctx, userKeyPrefix)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	seed := localUser{ID: uuid.NewString(), Hash: string(hash), IsAdmin: true}
	payload, err := json.Marshal(seed)
	if err != nil {
		return err
	}
	p.logger.Info("seeding default admin account")
	return p.store.Put(ctx, userKeyPrefix+DefaultAdminUsername, payload)
}

func (p *LocalProvider) SignIn(ctx context.Context, username, password string) (Session, error) {
	u, ok, err := p.lookup(ctx, username)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}

	expires := p.now().Add(p.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      u.ID,
		"username": username,
		"is_admin": u.IsAdmin,
		"iss":      p.issuer,
		"exp":      expires.Unix(),
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session token: %w", err)
	}

	sess := Session{Token: signed, ExpiresAt: expires}
	sess.User.ID = u.ID
	sess.User.Username = username
	sess.User.IsAdmin = u.IsAdmin
	p.publish(Event{Kind: EventSignedIn, User: sess.User})
	return sess, nil
}

func (p *LocalProvider) SignOut(ctx context.Context, token string) error {
	sess, err := p.SessionFromToken(ctx, token)
	if err == nil {
		p.publish(Event{Kind: EventSignedOut, User: sess.User})
	}
	// Stateless tokens cannot be revoked; sign-out is an event, not a
	// server-side invalidation.
	return nil
}

func (p *LocalProvider) SessionFromToken(_ context.Context, token string) (Session, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return p.secret, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Session{}, ErrInvalidSession
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, ErrInvalidSession
	}

	sess := Session{Token: token}
	if sub, err := claims.GetSubject(); err == nil {
		sess.User.ID = sub
	}
	if username, ok := claims["username"].(string); ok {
		sess.User.Username = username
	}
	if isAdmin, ok := claims["is_admin"].(bool); ok {
		sess.User.IsAdmin = isAdmin
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		sess.ExpiresAt = exp.Time
	}
	if sess.User.ID == "" || sess.User.Username == "" {
		return Session{}, ErrInvalidSession
	}
	return sess, nil
}

func (p *LocalProvider) CreateUser(ctx context.Context, u NewUser) (string, error) {
	_, ok, err := p.lookup(ctx, u.Username)
	if err != nil {
		return "", err
	}
	if ok {
		return "", ErrUsernameTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	rec := localUser{ID: uuid.NewString(), Hash: string(hash), IsAdmin: u.IsAdmin}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := p.store.Put(ctx, userKeyPrefix+u.Username, payload); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (p *LocalProvider) SetPassword(ctx context.Context, userID, password string) error {
	username, u, err := p.lookupByID(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Hash = string(hash)
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return p.store.Put(ctx, userKeyPrefix+username, payload)
}

func (p *LocalProvider) DeleteUser(ctx context.Context, userID string) error {
	username, _, err := p.lookupByID(ctx, userID)
	if err != nil {
		if errors.Is(err, errUserNotFound) {
			return nil
		}
		return err
	}
	return p.store.Delete(ctx, userKeyPrefix+username)
}

func (p *LocalProvider) Events() <-chan Event { return p.events }

var errUserNotFound = errors.New("user not found")

func (p *LocalProvider) lookup(ctx context.Context, username string) (localUser, bool, error) {
	payload, ok, err := p.store.Get(ctx, userKeyPrefix+username)
	if err != nil || !ok {
		return localUser{}, false, err
	}
	var u localUser
	if err := json.Unmarshal(payload, &u); err != nil {
		return localUser{}, false, fmt.Errorf("decode user record: %w", err)
	}
	return u, true, nil
}

func (p *LocalProvider) lookupByID(ctx context.Context, userID string) (string, localUser, error) {
	all, err := p.store.List(ctx, userKeyPrefix)
	if err != nil {
		return "", localUser{}, err
	}
	for key, payload := range all {
		var u localUser
		if err := json.Unmarshal(payload, &u); err != nil {
			continue
		}
		if u.ID == userID {
			return strings.TrimPrefix(key, userKeyPrefix), u, nil
		}
	}
	return "", localUser{}, errUserNotFound
}

func (p *LocalProvider) publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("identity event dropped, observer too slow",
			slog.String("kind", string(ev.Kind)))
	}
}
