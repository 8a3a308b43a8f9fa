package service

import (
	"context"
	"strings"

	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/rate"
	"mealgate/webclient/internal/sanitize"
)

const defaultRole = "user"

// AuthService signs users up, in and out of the platform.
type AuthService struct {
	client      *platform.Client
	authz       Authorizer
	attempts    *rate.Window
	maxAttempts int
	siteURL     string
	oauthReturn string
}

type AuthOptions struct {
	// MaxAttempts failed sign-ins per email within the attempt window; 0 disables the throttle.
	MaxAttempts int
	Attempts    *rate.Window
	SiteURL     string
	// OAuthRedirect overrides SiteURL + "/dashboard" as the provider return URL.
	OAuthRedirect string
}

func NewAuthService(c *platform.Client, a Authorizer, opts AuthOptions) *AuthService {
	if opts.Attempts == nil {
		opts.Attempts = rate.NewWindow(60)
	}
	site := strings.TrimRight(opts.SiteURL, "/")
	ret := opts.OAuthRedirect
	if ret == "" {
		ret = site + "/dashboard"
	}
	return &AuthService{
		client:      c,
		authz:       a,
		attempts:    opts.Attempts,
		maxAttempts: opts.MaxAttempts,
		siteURL:     site,
		oauthReturn: ret,
	}
}

// SignUp registers a user with the default role. The user comes back without
// a session when the project requires email confirmation.
func (s *AuthService) SignUp(ctx context.Context, email, password, fullName string) (*platform.User, error) {
	email, err := field("email", email, sanitize.Email)
	if err != nil {
		return nil, err
	}
	if _, err := field("password", password, sanitize.Password); err != nil {
		return nil, err
	}
	name, err := field("full_name", fullName, sanitize.Name)
	if err != nil {
		return nil, err
	}
	u, err := s.client.SignUp(ctx, email, password, map[string]any{
		"full_name": name,
		"role":      defaultRole,
	}).Unwrap()
	if err != nil {
		return nil, err
	}
	httputil.GetLogger(ctx).Info().Str("email", email).Msg("user signed up")
	return u, nil
}

// SignIn exchanges credentials for a session. Failed attempts are counted per
// email; once the limit is reached the platform is not asked until the window
// has moved on.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*platform.Session, error) {
	email, err := field("email", email, sanitize.Email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, &sanitize.ValidationError{Field: "password", Reason: sanitize.ReasonEmpty}
	}

	key := strings.ToLower(email)
	if s.maxAttempts > 0 && s.attempts.Count(key) >= s.maxAttempts {
		httputil.GetLogger(ctx).Warn().Str("email", email).Msg("sign-in throttled")
		return nil, ErrTooManyAttempts
	}
	sess, err := s.client.SignIn(ctx, email, password).Unwrap()
	if err != nil {
		n := s.attempts.Add(key)
		httputil.GetLogger(ctx).Info().Str("email", email).Int("failures", n).Err(err).Msg("sign-in failed")
		return nil, err
	}
	s.attempts.Reset(key)
	return sess, nil
}

func (s *AuthService) SignOut(ctx context.Context) error {
	return s.client.SignOut(ctx).Err()
}

// CurrentUser returns the signed-in user, or nil when there is none or the
// lookup failed.
func (s *AuthService) CurrentUser(ctx context.Context) *platform.User {
	u, err := s.authz.CurrentUser(ctx)
	if err != nil {
		httputil.GetLogger(ctx).Debug().Err(err).Msg("loading user failed")
		return nil
	}
	return u
}

// UserUpdate lists the attributes to change. Empty fields are left alone.
type UserUpdate struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (s *AuthService) UpdateUser(ctx context.Context, up UserUpdate) (*platform.User, error) {
	if _, err := s.authz.RequireUser(ctx); err != nil {
		return nil, err
	}
	var attrs platform.UserAttributes
	var err error
	if up.Email != "" {
		if attrs.Email, err = field("email", up.Email, sanitize.Email); err != nil {
			return nil, err
		}
	}
	if up.Password != "" {
		if attrs.Password, err = field("password", up.Password, sanitize.Password); err != nil {
			return nil, err
		}
	}
	if up.FullName != "" {
		name, err := field("full_name", up.FullName, sanitize.Name)
		if err != nil {
			return nil, err
		}
		attrs.Data = map[string]any{"full_name": name}
	}
	if attrs.Email == "" && attrs.Password == "" && attrs.Data == nil {
		return nil, &sanitize.ValidationError{Reason: "nothing to update"}
	}
	return s.client.UpdateUser(ctx, attrs).Unwrap()
}

// ResetPassword mails a recovery link that lands on the site.
func (s *AuthService) ResetPassword(ctx context.Context, email string) error {
	email, err := field("email", email, sanitize.Email)
	if err != nil {
		return err
	}
	return s.client.ResetPassword(ctx, email, s.siteURL).Err()
}

// GoogleSignInURL starts the Google sign-in flow; the provider returns the
// browser to the dashboard.
func (s *AuthService) GoogleSignInURL() string {
	return s.client.OAuthURL("google", s.oauthReturn)
}
