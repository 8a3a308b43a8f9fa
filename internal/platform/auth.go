package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is a signed-in platform session.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

// User is the platform's auth user record.
type User struct {
	ID           uuid.UUID      `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastSignInAt *time.Time     `json:"last_sign_in_at,omitempty"`
}

// FullName returns user_metadata.full_name when set.
func (u *User) FullName() string {
	if s, ok := u.UserMetadata["full_name"].(string); ok {
		return s
	}
	return ""
}

// UserAttributes is the body of an update-user call. Zero fields are omitted.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Phone    string         `json:"phone,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

func (c *Client) current() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// SetSession installs a session obtained elsewhere, e.g. an OAuth callback.
func (c *Client) SetSession(s *Session) { c.setSession(s) }

// Session returns the current session, refreshing it when the access token
// has expired. A nil value means nobody is signed in.
func (c *Client) Session(ctx context.Context) Result[*Session] {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	s := c.current()
	if s == nil {
		return Ok[*Session](nil)
	}
	claims, err := c.verifier.Parse(s.AccessToken)
	if err != nil {
		log.Warn().Err(err).Msg("discarding session with unreadable access token")
		c.setSession(nil)
		return Ok[*Session](nil)
	}
	if !c.verifier.Expired(claims, c.now()) {
		return Ok(s)
	}
	if s.RefreshToken == "" {
		c.setSession(nil)
		return Ok[*Session](nil)
	}

	fresh, err := c.grant(ctx, "refresh_token", map[string]string{"refresh_token": s.RefreshToken})
	if err != nil {
		c.setSession(nil)
		return Err[*Session](wrap("refresh session", err))
	}
	log.Debug().Str("user_id", claims.Subject).Msg("session refreshed")
	return Ok(fresh)
}

// User fetches the signed-in user from the platform.
func (c *Client) User(ctx context.Context) Result[*User] {
	s := c.current()
	if s == nil {
		return Err[*User](ErrNoSession)
	}
	raw, _, err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", bearer: s.AccessToken})
	if err != nil {
		return Err[*User](wrap("get user", err))
	}
	return Decode[*User](Ok(json.RawMessage(raw)))
}

// SignIn exchanges email and password for a session and keeps it.
func (c *Client) SignIn(ctx context.Context, email, password string) Result[*Session] {
	s, err := c.grant(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return Err[*Session](wrap("sign in", err))
	}
	return Ok(s)
}

// SignUp registers a user. When the project auto-confirms, the returned
// session is kept and the user is signed in.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) Result[*User] {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	raw, _, err := c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/signup", body: body, bearer: c.anonKey})
	if err != nil {
		return Err[*User](wrap("sign up", err))
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err == nil && s.AccessToken != "" {
		c.stamp(&s)
		c.setSession(&s)
		return Ok(s.User)
	}
	return Decode[*User](Ok(json.RawMessage(raw)))
}

// SignOut revokes the session remotely and always forgets it locally.
func (c *Client) SignOut(ctx context.Context) Result[struct{}] {
	s := c.current()
	c.setSession(nil)
	if s == nil {
		return Ok(struct{}{})
	}
	_, _, err := c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/logout", bearer: s.AccessToken})
	if err != nil {
		return Err[struct{}](wrap("sign out", err))
	}
	return Ok(struct{}{})
}

// UpdateUser changes the signed-in user's email, password or metadata.
func (c *Client) UpdateUser(ctx context.Context, attrs UserAttributes) Result[*User] {
	s := c.current()
	if s == nil {
		return Err[*User](ErrNoSession)
	}
	raw, _, err := c.do(ctx, request{method: http.MethodPut, path: "/auth/v1/user", body: attrs, bearer: s.AccessToken})
	if err != nil {
		return Err[*User](wrap("update user", err))
	}
	return Decode[*User](Ok(json.RawMessage(raw)))
}

// ResetPassword sends a recovery email. redirectTo may be empty.
func (c *Client) ResetPassword(ctx context.Context, email, redirectTo string) Result[struct{}] {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	_, _, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/recover",
		query:  q,
		body:   map[string]string{"email": email},
		bearer: c.anonKey,
	})
	if err != nil {
		return Err[struct{}](wrap("reset password", err))
	}
	return Ok(struct{}{})
}

// OAuthURL is the link that starts a provider sign-in.
func (c *Client) OAuthURL(provider, redirectTo string) string {
	u := *c.base
	u.Path = c.base.Path + "/auth/v1/authorize"
	q := url.Values{"provider": {provider}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) grant(ctx context.Context, grantType string, body map[string]string) (*Session, error) {
	raw, _, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {grantType}},
		body:   body,
		bearer: c.anonKey,
	})
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, &Error{Status: http.StatusBadGateway, Message: "token response without access_token"}
	}
	c.stamp(&s)
	c.setSession(&s)
	return &s, nil
}

// stamp fills ExpiresAt for servers that only send expires_in.
func (c *Client) stamp(s *Session) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
}
