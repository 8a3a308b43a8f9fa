// Package guard gates every navigation of the app server. Each navigation is
// evaluated on its own: login and registration pass, mutating navigations must
// carry the CSRF token, then the session and admin flag are fetched fresh.
package guard

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/metrics"
	"mealgate/webclient/internal/platform"

	"github.com/google/uuid"
)

type Outcome int

const (
	Allow Outcome = iota
	RedirectLogin
	RedirectHome
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "login"
	case RedirectHome:
		return "home"
	case Forbidden:
		return "forbidden"
	}
	return "unknown"
}

// Route is a navigation target and what it requires.
type Route struct {
	Name          string
	Path          string // ServeMux pattern path, e.g. /meal-plans/{id}
	RequiresAuth  bool
	RequiresAdmin bool
	Method        string // the action the route models; "" or GET for reads
}

// Mutating reports whether the route models a state-changing action.
func (r Route) Mutating() bool {
	switch strings.ToUpper(r.Method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Navigation is one attempt to reach a route.
type Navigation struct {
	Route  Route
	Path   string // concrete path being visited
	Query  url.Values
	Params map[string]string
}

type Decision struct {
	Outcome Outcome
	User    *platform.User // set when a user was resolved
	Reason  string
}

// CSRFVerifier checks a candidate token against the stored one.
type CSRFVerifier interface {
	Verify(candidate string) bool
}

// Authorizer resolves the current user and their admin flag.
type Authorizer interface {
	CurrentUser(ctx context.Context) (*platform.User, error)
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Paths are the redirect targets of the non-allow outcomes.
type Paths struct {
	Login     string
	Register  string
	Home      string
	Forbidden string
}

type Guard struct {
	csrf       CSRFVerifier
	authz      Authorizer
	paths      Paths
	tokenParam string
}

// New builds a guard. tokenParam is the query or route parameter that carries
// the CSRF token, csrf_token by default.
func New(csrf CSRFVerifier, authz Authorizer, paths Paths, tokenParam string) *Guard {
	if paths.Login == "" {
		paths.Login = "/login"
	}
	if paths.Register == "" {
		paths.Register = "/register"
	}
	if paths.Home == "" {
		paths.Home = "/"
	}
	if paths.Forbidden == "" {
		paths.Forbidden = "/error?code=403"
	}
	if tokenParam == "" {
		tokenParam = "csrf_token"
	}
	return &Guard{csrf: csrf, authz: authz, paths: paths, tokenParam: tokenParam}
}

func (g *Guard) Paths() Paths { return g.paths }

// Evaluate decides one navigation.
func (g *Guard) Evaluate(ctx context.Context, nav Navigation) Decision {
	route := nav.Route
	path := nav.Path
	if path == "" {
		path = route.Path
	}
	if path == g.paths.Login || path == g.paths.Register {
		return Decision{Outcome: Allow, Reason: "auth page"}
	}

	if route.Mutating() {
		if !g.csrf.Verify(g.token(nav)) {
			return Decision{Outcome: Forbidden, Reason: "csrf"}
		}
	}

	protected := route.RequiresAuth || route.RequiresAdmin
	user, err := g.authz.CurrentUser(ctx)
	if err != nil {
		httputil.GetLogger(ctx).Warn().Err(err).Str("route", route.Name).Msg("session lookup failed")
		if protected {
			return Decision{Outcome: RedirectLogin, Reason: "lookup failed"}
		}
		return Decision{Outcome: Allow, Reason: "lookup failed on public route"}
	}

	if route.RequiresAuth && user == nil {
		return Decision{Outcome: RedirectLogin, Reason: "no user"}
	}
	if route.RequiresAdmin {
		if user == nil {
			return Decision{Outcome: RedirectLogin, Reason: "no user"}
		}
		ok, err := g.authz.IsAdmin(ctx, user.ID)
		if err != nil {
			httputil.GetLogger(ctx).Warn().Err(err).Str("user_id", user.ID.String()).Msg("admin check failed")
			return Decision{Outcome: RedirectHome, User: user, Reason: "admin check failed"}
		}
		if !ok {
			return Decision{Outcome: RedirectHome, User: user, Reason: "not admin"}
		}
	}
	return Decision{Outcome: Allow, User: user}
}

func (g *Guard) token(nav Navigation) string {
	if v := nav.Query.Get(g.tokenParam); v != "" {
		return v
	}
	return nav.Params[g.tokenParam]
}

// Location is where a non-allow outcome sends the browser. from is the URI
// that was refused; login redirects carry it so sign-in can return there.
func (g *Guard) Location(o Outcome, from string) string {
	switch o {
	case RedirectLogin:
		if from == "" || httputil.SanitizeReturnURL(from) != from {
			return g.paths.Login
		}
		return g.paths.Login + "?redirect=" + url.QueryEscape(from)
	case RedirectHome:
		return g.paths.Home
	case Forbidden:
		return g.paths.Forbidden
	}
	return ""
}

type userKey struct{}

// WithUser stores the resolved user for handlers.
func WithUser(ctx context.Context, u *platform.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the user the guard resolved, or nil.
func UserFrom(ctx context.Context) *platform.User {
	u, _ := ctx.Value(userKey{}).(*platform.User)
	return u
}

var wildcard = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(\.\.\.)?\}`)

// Middleware evaluates route for every request before next runs. The CSRF
// token may come from the query, a route parameter, or the CSRF header, which
// is folded into the parameters under the token parameter name.
func (g *Guard) Middleware(route Route, csrfHeader string) func(http.Handler) http.Handler {
	names := []string{}
	for _, m := range wildcard.FindAllStringSubmatch(route.Path, -1) {
		names = append(names, m[1])
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			params := make(map[string]string, len(names)+1)
			for _, n := range names {
				params[n] = r.PathValue(n)
			}
			if v := r.Header.Get(csrfHeader); v != "" {
				params[g.tokenParam] = v
			}

			d := g.Evaluate(r.Context(), Navigation{
				Route:  route,
				Path:   r.URL.Path,
				Query:  r.URL.Query(),
				Params: params,
			})
			metrics.GuardDuration.Observe(time.Since(start).Seconds())
			metrics.GuardDecision.WithLabelValues(d.Outcome.String()).Inc()

			if d.Outcome != Allow {
				httputil.GetLogger(r.Context()).Info().
					Str("route", route.Name).
					Str("outcome", d.Outcome.String()).
					Str("reason", d.Reason).
					Msg("navigation redirected")
				from := ""
				if r.Method == http.MethodGet {
					from = r.URL.RequestURI()
				}
				http.Redirect(w, r, g.Location(d.Outcome, from), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), d.User)))
		})
	}
}
