// Package csrf issues and verifies the client's CSRF token.
//
// The token lives in a single cookie scoped to the site origin. Store owns the
// cookie; Guard issues tokens through it, verifies caller-supplied tokens in
// constant time and attaches the token to outbound request headers.
package csrf

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"mealgate/webclient/internal/metrics"
)

const (
	DefaultCookieName = "csrf-token"
	DefaultTokenBytes = 32
)

// TokenStore is the storage Guard depends on.
type TokenStore interface {
	Generate(length int) (string, error)
	Read() (string, bool)
}

// StoreOptions controls cookie attributes. Zero values fall back to defaults.
type StoreOptions struct {
	CookieName string
	Secure     bool
	SameSite   http.SameSite
}

// Store keeps the CSRF token in a cookie jar entry for one origin.
type Store struct {
	jar  http.CookieJar
	site *url.URL
	opts StoreOptions
}

// NewStore binds a jar to the site origin. A nil jar gets a fresh in-memory one.
func NewStore(jar http.CookieJar, siteURL string, opts StoreOptions) (*Store, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("csrf: site url must be absolute")
	}
	if opts.Secure && u.Scheme != "https" {
		// the jar never returns Secure cookies for plain http origins
		return nil, errors.New("csrf: secure cookie requires an https site url")
	}
	if jar == nil {
		jar, err = cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteStrictMode
	}
	return &Store{jar: jar, site: &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, opts: opts}, nil
}

// Generate draws length random bytes, hex-encodes them and stores the result.
func (s *Store) Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultTokenBytes
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	tok := hex.EncodeToString(b)
	s.jar.SetCookies(s.site, []*http.Cookie{s.cookie(tok)})
	metrics.CSRFTokensIssued.Inc()
	return tok, nil
}

// Read returns the stored token, or false when no cookie is present.
func (s *Store) Read() (string, bool) {
	for _, c := range s.jar.Cookies(s.site) {
		if c.Name == s.opts.CookieName {
			v := strings.TrimSpace(c.Value)
			if v == "" {
				return "", false
			}
			return v, true
		}
	}
	return "", false
}

// Cookie builds the browser-facing copy of the token: readable by script, same attributes.
func (s *Store) Cookie(tok string) *http.Cookie {
	c := s.cookie(tok)
	c.HttpOnly = false
	return c
}

func (s *Store) cookie(tok string) *http.Cookie {
	return &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    tok,
		Path:     "/",
		Secure:   s.opts.Secure,
		HttpOnly: true, // jar entries are never exposed to page script
		SameSite: s.opts.SameSite,
	}
}

// ParseSameSite maps a config string to the cookie mode. Unknown values mean Strict.
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteStrictMode
	}
}
