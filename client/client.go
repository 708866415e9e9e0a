// Package client is an HTTP client for the auth API. Its main job beyond
// plain request plumbing is refresh coordination: when several in-flight
// requests fail with an authentication error at once, exactly one
// refresh-token call is issued and every blocked request resumes — and is
// replayed exactly once — after that single call settles.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// ErrSessionExpired is returned when the refresh-token call itself is
// rejected; the caller must re-authenticate.
var ErrSessionExpired = errors.New("session expired")

const defaultRefreshTimeout = 10 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL is the server origin, e.g. "https://api.example.com".
	BaseURL string
	// HTTPClient is optional. It must carry a cookie jar; when nil a default
	// client with a fresh jar is used.
	HTTPClient *http.Client
	// RefreshTimeout bounds the refresh call so a hung refresh cannot leave
	// queued requests suspended forever. Defaults to 10s.
	RefreshTimeout time.Duration
	// OnSessionExpired runs once per failed refresh, after the wait queue has
	// been cleared. Typical use: drop local session state, send the user to
	// the login screen.
	OnSessionExpired func()
}

// User mirrors the API's user representation.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Client is safe for concurrent use. Refresh state is instance-scoped, so
// independent clients never interfere with each other.
type Client struct {
	baseURL          string
	http             *http.Client
	refreshTimeout   time.Duration
	onSessionExpired func()

	mu         sync.Mutex
	refreshing bool
	waiters    []chan error
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		http:             hc,
		refreshTimeout:   timeout,
		onSessionExpired: cfg.OnSessionExpired,
	}, nil
}

// Do sends the request and intercepts authentication failures. A 401 on a
// request that has not been retried yet triggers the refresh protocol; once
// the refresh succeeds the request is replayed once with the updated session.
// A replayed request that still fails 401 is returned as-is. Any other
// response passes through unmodified.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Retried at most once per request: the replay below goes straight to the
	// underlying client, so a second 401 surfaces to the caller.
	drain(resp)
	if err := c.awaitRefresh(req.Context()); err != nil {
		return nil, err
	}
	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	return c.http.Do(retry)
}

// awaitRefresh ensures exactly one refresh call is in flight. The first
// caller performs it; everyone else enqueues and blocks until it settles.
// On success the queue drains in enqueue order; on failure every waiter
// observes the refresh error and nothing is replayed.
func (c *Client) awaitRefresh(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshing {
		ch := make(chan error, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	err := c.refreshSession()

	c.mu.Lock()
	c.refreshing = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
	if err != nil && c.onSessionExpired != nil {
		c.onSessionExpired()
	}
	return err
}

func (c *Client) refreshSession() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/refresh-token", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	drain(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: refresh rejected with status %d", ErrSessionExpired, resp.StatusCode)
	}
	return nil
}

// Register starts registration; the server emails an OTP.
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	return c.postJSON(ctx, "/api/register", map[string]string{
		"name": name, "email": email, "password": password,
	}, nil)
}

// VerifyRegistration completes registration with the emailed OTP.
func (c *Client) VerifyRegistration(ctx context.Context, name, email, password, otp string) (*User, error) {
	var out struct {
		User *User `json:"user"`
	}
	err := c.postJSON(ctx, "/api/verify", map[string]string{
		"name": name, "email": email, "password": password, "otp": otp,
	}, &out)
	return out.User, err
}

// Login authenticates and stores the session cookies in the client's jar.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var out struct {
		User *User `json:"user"`
	}
	err := c.postJSON(ctx, "/api/login", map[string]string{
		"email": email, "password": password,
	}, &out)
	return out.User, err
}

// Me returns the currently authenticated user, transparently refreshing the
// session when the access token has expired.
func (c *Client) Me(ctx context.Context) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		User  *User  `json:"user"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	return out.User, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &envelope)
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// cloneRequest copies a request for replay, rewinding the body via GetBody.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
