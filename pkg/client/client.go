package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout   = 30 * time.Second
	bootstrapTimeout = 5 * time.Second
)

// Client is an HTTP client for the CRM API that manages the session token
// pair transparently: it attaches the access token, refreshes it on 401 and
// replays the failed request exactly once.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	store        TokenStore
	refreshGroup singleflight.Group
}

type Option func(*Client)

// WithHTTPClient replaces the underlying transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, store TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		store:      store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request with the stored access token attached. On a 401 it
// refreshes the token pair and replays the request once; a 401 on the replay
// is returned to the caller untouched. Network failures surface as
// *TransientError and never modify the stored credentials, because a timeout
// says nothing about whether the session is still valid.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	creds, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	var sentToken string
	if creds != nil && creds.AccessToken != "" {
		sentToken = creds.AccessToken
		req.Header.Set("Authorization", "Bearer "+sentToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	if resp.StatusCode != http.StatusUnauthorized || sentToken == "" {
		return resp, nil
	}
	drain(resp)

	access, err := c.refresh(req.Context(), sentToken)
	if err != nil {
		return nil, err
	}

	replay, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	replay.Header.Set("Authorization", "Bearer "+access)
	resp, err = c.httpClient.Do(replay)
	if err != nil {
		return nil, &TransientError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	return resp, nil
}

// refresh exchanges the refresh token for a new access token. Concurrent
// callers holding the same stale access token share one refresh round trip.
func (c *Client) refresh(ctx context.Context, staleAccess string) (string, error) {
	v, err, _ := c.refreshGroup.Do(staleAccess, func() (any, error) {
		creds, err := c.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		if creds == nil || creds.RefreshToken == "" {
			// Nothing to exchange; dump the dead access token too so
			// later requests go out anonymous instead of retrying it.
			_ = c.store.Clear()
			return nil, ErrSessionExpired
		}
		// Another caller already rotated the pair.
		if creds.AccessToken != staleAccess {
			return creds.AccessToken, nil
		}

		payload, _ := json.Marshal(map[string]string{"refreshToken": creds.RefreshToken})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v1/auth/refresh", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+staleAccess)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &TransientError{Op: "token refresh", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Any definitive answer other than a fresh pair means the
			// refresh token can no longer be trusted. Clearing here makes
			// every subsequent request fail fast without credentials.
			// Only transport failures above stay indeterminate.
			_ = c.store.Clear()
			return nil, ErrSessionExpired
		}

		var body struct {
			Data struct {
				AccessToken string `json:"accessToken"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode refresh response: %w", err)
		}
		creds.AccessToken = body.Data.AccessToken
		if err := c.store.Save(creds); err != nil {
			return nil, fmt.Errorf("save credentials: %w", err)
		}
		return creds.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Login exchanges credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (*Credentials, error) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/auth/login", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiStatusError("login", resp)
	}

	var body struct {
		Data Credentials `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if err := c.store.Save(&body.Data); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	return &body.Data, nil
}

// Logout revokes the server-side session and clears local credentials. Local
// state is cleared even if the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	creds, err := c.store.Load()
	if err != nil {
		return err
	}
	defer func() { _ = c.store.Clear() }()
	if creds == nil || creds.AccessToken == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: "logout", Err: err}
	}
	drain(resp)
	return nil
}

// Me fetches the authenticated profile, refreshing the session if needed.
func (c *Client) Me(ctx context.Context) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiStatusError("me", resp)
	}
	var body struct {
		Data UserInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &body.Data, nil
}

// Bootstrap validates stored credentials at startup with a short timeout.
// An explicit rejection clears the stored pair; a timeout or network error
// keeps it, since the session may well still be valid.
func (c *Client) Bootstrap(ctx context.Context) (*UserInfo, error) {
	creds, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if creds == nil || creds.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()
	return c.Me(ctx)
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	replay := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return replay, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	replay.Body = body
	return replay, nil
}

func apiStatusError(op string, resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Code != "" {
		return fmt.Errorf("%s: %s (%s)", op, body.Error.Message, body.Error.Code)
	}
	return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
