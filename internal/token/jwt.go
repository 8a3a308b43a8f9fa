package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ---- Public types ----

// AccessClaims are the claims the platform puts in a session access token.
type AccessClaims struct {
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Verifier decodes access tokens. With a secret it also checks the HS256
// signature; without one the token is trusted as received from the platform.
type Verifier struct {
	secret []byte
	Skew   time.Duration
}

// ---- Errors ----

var (
	ErrEmptyToken      = errors.New("empty token")
	ErrExpMissing      = errors.New("exp missing")
	ErrSubjectMissing  = errors.New("sub missing")
	ErrSubjectNotUUID  = errors.New("sub is not a uuid")
	ErrSecretTooShort  = errors.New("jwt secret too short; need >=16 bytes")
	ErrUnverifiedToken = errors.New("token signature invalid")
)

// ---- Constructors ----

// NewVerifier returns a verifier. An empty secret disables signature checks.
func NewVerifier(secret string, skew time.Duration) (*Verifier, error) {
	v := &Verifier{Skew: skew}
	if secret == "" {
		return v, nil
	}
	if len(secret) < 16 {
		return nil, ErrSecretTooShort
	}
	v.secret = []byte(secret)
	return v, nil
}

// Verifies reports whether signatures are checked.
func (v *Verifier) Verifies() bool { return len(v.secret) > 0 }

// ---- Operations ----

// Parse decodes tok and, when a secret is configured, checks its signature.
// Expiry is NOT enforced here: callers need the claims of an expired token to
// decide whether to refresh it. Use Expired for that.
func (v *Verifier) Parse(tok string) (*AccessClaims, error) {
	if tok == "" {
		return nil, ErrEmptyToken
	}
	var claims AccessClaims
	if !v.Verifies() {
		if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
			return nil, err
		}
	} else {
		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		)
		t, err := parser.ParseWithClaims(tok, &claims, func(*jwt.Token) (interface{}, error) {
			return v.secret, nil
		})
		if err != nil {
			return nil, err
		}
		if !t.Valid {
			return nil, ErrUnverifiedToken
		}
	}
	if claims.Subject == "" {
		return nil, ErrSubjectMissing
	}
	if claims.ExpiresAt == nil {
		return nil, ErrExpMissing
	}
	return &claims, nil
}

// Expired reports whether the token expires within Skew of now.
func (v *Verifier) Expired(c *AccessClaims, now time.Time) bool {
	return !now.Add(v.Skew).Before(c.ExpiresAt.Time)
}

// UserID returns the subject as a uuid. Platform user ids are always uuids.
func (c *AccessClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrSubjectNotUUID
	}
	return id, nil
}

// Sign mints an HS256 access token. The platform issues real tokens; this
// backs local fixtures.
func Sign(secret string, claims AccessClaims) (string, error) {
	if len(secret) < 16 {
		return "", ErrSecretTooShort
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
