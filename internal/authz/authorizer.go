// Package authz is the single place that decides who the current user is and
// whether they are an administrator. The route guard and the admin-only
// services both go through an Authorizer.
package authz

import (
	"context"
	"errors"
	"fmt"

	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/platform"

	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("authz: not signed in")
	ErrForbidden       = errors.New("authz: administrator access required")
)

// Platform is the slice of the platform client the authorizer needs.
type Platform interface {
	Session(ctx context.Context) platform.Result[*platform.Session]
	User(ctx context.Context) platform.Result[*platform.User]
}

// ProfileStore reports the is_admin flag of a profile row.
type ProfileStore interface {
	IsAdminFlag(ctx context.Context, userID uuid.UUID) (bool, error)
}

// PlatformProfiles reads profiles.is_admin through PostgREST.
type PlatformProfiles struct {
	Client *platform.Client
}

func (p PlatformProfiles) IsAdminFlag(ctx context.Context, userID uuid.UUID) (bool, error) {
	type row struct {
		IsAdmin *bool `json:"is_admin"`
	}
	r, err := platform.Decode[row](p.Client.From(platform.TableProfiles).
		Select("is_admin").
		Eq("id", userID).
		Single().
		Get(ctx)).Unwrap()
	if err != nil {
		return false, err
	}
	// a null flag is not an admin
	return r.IsAdmin != nil && *r.IsAdmin, nil
}

type Authorizer struct {
	platform Platform
	profiles ProfileStore
}

func NewAuthorizer(p Platform, profiles ProfileStore) *Authorizer {
	return &Authorizer{platform: p, profiles: profiles}
}

// CurrentUser resolves the session and then the user. It returns a nil user
// and nil error when nobody is signed in.
func (a *Authorizer) CurrentUser(ctx context.Context) (*platform.User, error) {
	s, err := a.platform.Session(ctx).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("authz: session: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	u, err := a.platform.User(ctx).Unwrap()
	if err != nil {
		if errors.Is(err, platform.ErrNoSession) {
			return nil, nil
		}
		return nil, fmt.Errorf("authz: user: %w", err)
	}
	return u, nil
}

// IsAdmin looks up the profile flag for userID.
func (a *Authorizer) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := a.profiles.IsAdminFlag(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("authz: profile %s: %w", userID, err)
	}
	return ok, nil
}

// RequireAdmin returns the signed-in administrator, ErrUnauthenticated when
// nobody is signed in, or ErrForbidden otherwise. A failed profile lookup
// counts as not an administrator.
func (a *Authorizer) RequireAdmin(ctx context.Context) (*platform.User, error) {
	u, err := a.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := a.IsAdmin(ctx, u.ID)
	if err != nil {
		httputil.GetLogger(ctx).Warn().Err(err).Str("user_id", u.ID.String()).Msg("admin check failed")
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if !ok {
		return nil, ErrForbidden
	}
	return u, nil
}

// RequireUser returns the signed-in user or ErrUnauthenticated.
func (a *Authorizer) RequireUser(ctx context.Context) (*platform.User, error) {
	u, err := a.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if u == nil {
		return nil, ErrUnauthenticated
	}
	return u, nil
}
