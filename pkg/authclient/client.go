// Package authclient sends API requests with the stored access token and
// renews it when the server answers 401. Concurrent callers that hit an
// expired token share a single refresh.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	refreshPath    = "/auth/refresh-token"
	loginPath      = "/auth/login"
	logoutPath     = "/auth/logout"
	refreshKey     = "refresh"
	defaultTimeout = 10 * time.Second
)

var (
	// ErrSessionExpired means the refresh token was rejected and the stored
	// credentials were cleared. Retrying will not help; sign in again.
	ErrSessionExpired = errors.New("session_expired")
	ErrLoginFailed    = errors.New("login_failed")
)

type Client struct {
	baseURL string
	http    *http.Client
	store   CredentialStore
	log     *zap.Logger
	group   singleflight.Group
	timeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRefreshTimeout bounds the shared refresh call. It is detached from
// the caller that started it so one cancelled request cannot fail the rest.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(baseURL string, store CredentialStore, opts ...Option) *Client {
	if store == nil {
		store = NewMemoryStore(nil)
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
		log:     zap.NewNop(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("authclient")
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Store() CredentialStore { return c.store }

// Token returns the current access token.
func (c *Client) Token(context.Context) (string, error) {
	creds, ok := c.store.Load()
	if !ok || creds.AccessToken == "" {
		return "", ErrSessionExpired
	}
	return creds.AccessToken, nil
}

// Do sends req with the current access token. A 401 triggers one refresh
// and one retry; the body is replayed through req.GetBody.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := ensureReplayable(req); err != nil {
		return nil, err
	}

	used := c.currentToken()
	resp, err := c.send(req, used)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	drain(resp)

	token, err := c.Refresh(req.Context(), used)
	if err != nil {
		return nil, err
	}

	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	return c.send(retry, token)
}

// Refresh renews the access token that the caller saw as stale. If another
// caller already rotated it, the current token is returned without a call.
func (c *Client) Refresh(ctx context.Context, stale string) (string, error) {
	if current := c.currentToken(); current != "" && current != stale {
		return current, nil
	}

	v, err, shared := c.group.Do(refreshKey, func() (any, error) {
		creds, ok := c.store.Load()
		if !ok || strings.TrimSpace(creds.RefreshToken) == "" {
			c.store.Clear()
			return "", ErrSessionExpired
		}
		if creds.AccessToken != "" && creds.AccessToken != stale {
			return creds.AccessToken, nil
		}

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		next, err := c.callRefresh(refreshCtx, creds.RefreshToken)
		if err != nil {
			c.log.Warn("token refresh failed, clearing session", zap.Error(err))
			c.store.Clear()
			return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		c.store.Save(*next)
		return next.AccessToken, nil
	})
	if shared {
		c.log.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Login exchanges a password for a token pair and stores it.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	creds, err := c.postCredentials(ctx, loginPath, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	c.store.Save(*creds)
	return nil
}

// Logout revokes the refresh token server side and clears local state. The
// local state is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.store.Clear()

	creds, ok := c.store.Load()
	if !ok || creds.RefreshToken == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"refreshToken": creds.RefreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+logoutPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

func (c *Client) callRefresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, err
	}
	return c.postCredentials(ctx, refreshPath, body)
}

func (c *Client) postCredentials(ctx context.Context, path string, body []byte) (*Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("%s returned no access token", path)
	}
	return &creds, nil
}

func (c *Client) send(req *http.Request, token string) (*http.Response, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}
	return c.http.Do(req)
}

func (c *Client) currentToken() string {
	creds, _ := c.store.Load()
	return creds.AccessToken
}

// ensureReplayable buffers a body that has no GetBody so the retry can
// resend it.
func ensureReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(buf))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return nil
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return retry, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
