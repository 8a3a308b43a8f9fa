// Package platform is the adapter for the remote backend-as-a-service: GoTrue
// auth under /auth/v1 and PostgREST tables under /rest/v1. Every call returns a
// Result so callers branch on a tag instead of inspecting a (data, error) pair.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mealgate/webclient/internal/token"
)

// maxBodyBytes caps a successful response body. A var so tests can lower it.
var maxBodyBytes int64 = 4 << 20

// Client talks to one platform project. It holds the single session of the
// process; all methods are safe for concurrent use.
type Client struct {
	base     *url.URL
	anonKey  string
	http     *http.Client
	verifier *token.Verifier
	now      func() time.Time

	mu      sync.RWMutex
	session *Session

	refreshMu sync.Mutex // one refresh in flight; refresh tokens are single use
}

// New builds a client. httpClient should come from transport.NewClient; nil
// uses a client with a 10 second timeout.
func New(baseURL, anonKey string, httpClient *http.Client, verifier *token.Verifier) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("platform: base url must be absolute")
	}
	if anonKey == "" {
		return nil, errors.New("platform: anon key required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if verifier == nil {
		verifier, _ = token.NewVerifier("", 30*time.Second)
	}
	return &Client{
		base:     u,
		anonKey:  anonKey,
		http:     httpClient,
		verifier: verifier,
		now:      time.Now,
	}, nil
}

// BaseURL returns the project URL.
func (c *Client) BaseURL() string { return c.base.String() }

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	header http.Header
	// bearer overrides the session token; "" means use the session or anon key
	bearer string
}

// do performs one call and returns the raw body and response headers. Non-2xx
// responses become *Error.
func (c *Client) do(ctx context.Context, r request) (json.RawMessage, http.Header, error) {
	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, nil, fmt.Errorf("platform: encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, nil, err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("apikey", c.anonKey)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	bearer := r.bearer
	if bearer == "" {
		if s := c.current(); s != nil {
			bearer = s.AccessToken
		} else {
			bearer = c.anonKey
		}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.Header, parseError(resp)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, resp.Header, err
	}
	if int64(len(raw)) > maxBodyBytes {
		return nil, resp.Header, fmt.Errorf("%w: %s %s over %d bytes", ErrResponseTooLarge, r.method, r.path, maxBodyBytes)
	}
	return raw, resp.Header, nil
}

// RPC calls a stored procedure.
func (c *Client) RPC(ctx context.Context, fn string, args any) Result[json.RawMessage] {
	if args == nil {
		args = map[string]any{}
	}
	raw, _, err := c.do(ctx, request{method: http.MethodPost, path: "/rest/v1/rpc/" + url.PathEscape(fn), body: args})
	if err != nil {
		return Err[json.RawMessage](err)
	}
	return Ok(raw)
}

// Decode unmarshals a successful raw result into T.
func Decode[T any](r Result[json.RawMessage]) Result[T] {
	return Map(r, func(raw json.RawMessage) (T, error) {
		var v T
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return v, fmt.Errorf("platform: decode %T: %w", v, err)
		}
		return v, nil
	})
}
