package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HTTPProvider talks to a remote identity service. Admin operations are
// authorized with a service-account token obtained through the client
// credentials flow; the token is cached and refreshed 30 seconds before
// expiry.
type HTTPProvider struct {
	baseURL      string
	clientID     string
	clientSecret string

	httpClient *http.Client
	logger     *slog.Logger
	events     chan Event

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewHTTPProvider builds a provider for the identity service at baseURL.
// httpClient may be nil, in which case a 30-second-timeout client is used.
func NewHTTPProvider(baseURL, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "identity.http")),
		events:       make(chan Event, 8),
	}
}

type sessionResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (r sessionResponse) session() Session {
	s := Session{Token: r.Token, ExpiresAt: r.ExpiresAt}
	s.User.ID = r.UserID
	s.User.Username = r.Username
	s.User.IsAdmin = r.IsAdmin
	return s
}

func (p *HTTPProvider) SignIn(ctx context.Context, username, password string) (Session, error) {
	body := map[string]string{"username": username, "password": password}
	resp, err := p.do(ctx, http.MethodPost, "/v1/sessions", body, "")
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized:
		return Session{}, ErrInvalidCredentials
	default:
		return Session{}, unexpectedStatus(resp)
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Session{}, fmt.Errorf("decode session response: %w", err)
	}
	sess := sr.session()
	p.publish(Event{Kind: EventSignedIn, User: sess.User})
	return sess, nil
}

func (p *HTTPProvider) SignOut(ctx context.Context, token string) error {
	sess, sessErr := p.SessionFromToken(ctx, token)

	resp, err := p.do(ctx, http.MethodDelete, "/v1/sessions/current", nil, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return unexpectedStatus(resp)
	}
	if sessErr == nil {
		p.publish(Event{Kind: EventSignedOut, User: sess.User})
	}
	return nil
}

func (p *HTTPProvider) SessionFromToken(ctx context.Context, token string) (Session, error) {
	resp, err := p.do(ctx, http.MethodGet, "/v1/sessions/current", nil, token)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusNotFound:
		return Session{}, ErrInvalidSession
	default:
		return Session{}, unexpectedStatus(resp)
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Session{}, fmt.Errorf("decode session response: %w", err)
	}
	sess := sr.session()
	sess.Token = token
	return sess, nil
}

func (p *HTTPProvider) CreateUser(ctx context.Context, u NewUser) (string, error) {
	token, err := p.serviceToken(ctx)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"username": u.Username,
		"email":    u.Email,
		"phone":    u.Phone,
		"password": u.Password,
		"isAdmin":  u.IsAdmin,
	}
	resp, err := p.do(ctx, http.MethodPost, "/v1/users", body, token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return "", conflictError(resp)
	default:
		return "", unexpectedStatus(resp)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create user response: %w", err)
	}
	return created.ID, nil
}

func (p *HTTPProvider) SetPassword(ctx context.Context, userID, password string) error {
	token, err := p.serviceToken(ctx)
	if err != nil {
		return err
	}
	body := map[string]string{"password": password}
	resp, err := p.do(ctx, http.MethodPut, "/v1/users/"+url.PathEscape(userID)+"/password", body, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return unexpectedStatus(resp)
	}
	return nil
}

func (p *HTTPProvider) DeleteUser(ctx context.Context, userID string) error {
	token, err := p.serviceToken(ctx)
	if err != nil {
		return err
	}
	resp, err := p.do(ctx, http.MethodDelete, "/v1/users/"+url.PathEscape(userID), nil, token)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return unexpectedStatus(resp)
	}
}

func (p *HTTPProvider) Events() <-chan Event { return p.events }

// serviceToken returns a valid service-account token, refreshing it when
// it has less than 30 seconds of validity left.
func (p *HTTPProvider) serviceToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Add(30*time.Second).Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/token",
		strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request service token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", unexpectedStatus(resp)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	p.accessToken = token.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	p.logger.Debug("service token refreshed", slog.Time("expires_at", p.tokenExpiry))
	return p.accessToken, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body any, bearer string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service request: %w", err)
	}
	return resp, nil
}

func (p *HTTPProvider) publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("identity event dropped, observer too slow",
			slog.String("kind", string(ev.Kind)))
	}
}

// conflictError maps a 409 body onto the field-specific sentinel.
func conflictError(resp *http.Response) error {
	var payload struct {
		Field string `json:"field"`
	}
	body, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(body, &payload)
	switch payload.Field {
	case "email":
		return ErrEmailTaken
	default:
		return ErrUsernameTaken
	}
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("identity service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
