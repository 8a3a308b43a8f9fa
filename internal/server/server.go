// Package server is the local app server. Each route stands for one page or
// action of the app; every route runs behind the navigation guard.
package server

import (
	"net/http"
	"strings"
	"time"

	"mealgate/webclient/internal/guard"
	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxJSONBytes = 64 * 1024

// Middleware wraps an http.Handler and returns a new handler
type Middleware func(http.Handler) http.Handler

// Chain composes multiple middlewares into a single middleware
// Middlewares are applied in the order they are provided:
// Chain(mw1, mw2, mw3)(handler) => mw1(mw2(mw3(handler)))
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

type Server struct {
	app      *App
	logger   zerolog.Logger
	gatherer prometheus.Gatherer
	started  time.Time
}

func New(app *App, logger zerolog.Logger) *Server {
	return &Server{app: app, logger: logger, gatherer: prometheus.DefaultGatherer, started: time.Now()}
}

// endpoint is one entry of the route table.
type endpoint struct {
	method  string
	route   guard.Route
	handler http.HandlerFunc
}

func (s *Server) routes() []endpoint {
	get := func(name, path string, auth, admin bool, h http.HandlerFunc) endpoint {
		return endpoint{http.MethodGet, guard.Route{Name: name, Path: path, RequiresAuth: auth, RequiresAdmin: admin}, h}
	}
	act := func(method, name, path string, auth, admin bool, h http.HandlerFunc) endpoint {
		return endpoint{method, guard.Route{Name: name, Path: path, RequiresAuth: auth, RequiresAdmin: admin, Method: method}, h}
	}
	r := s.app.Config.Routes
	return []endpoint{
		get("home", "/", false, false, s.handleHome),

		get("login", r.Login, false, false, s.handleLoginPage),
		act(http.MethodPost, "login", r.Login, false, false, s.handleLogin),
		get("register", r.Register, false, false, s.handleRegisterPage),
		act(http.MethodPost, "register", r.Register, false, false, s.handleRegister),
		act(http.MethodPost, "logout", "/logout", true, false, s.handleLogout),
		get("google-sign-in", "/auth/google", false, false, s.handleGoogle),
		act(http.MethodPost, "reset-password", "/password/reset", false, false, s.handleResetPassword),
		act(http.MethodPut, "update-account", "/account", true, false, s.handleUpdateAccount),

		get("meal-plans", "/meal-plans", false, false, s.handleMealPlans),
		get("meal-plan", "/meal-plans/{id}", false, false, s.handleMealPlan),

		get("testimonials", "/testimonials", false, false, s.handleTestimonials),
		act(http.MethodPost, "add-testimonial", "/testimonials", false, false, s.handleAddTestimonial),
		act(http.MethodPut, "update-testimonial", "/testimonials/{id}", true, false, s.handleUpdateTestimonial),

		get("subscriptions", "/subscriptions", true, false, s.handleSubscriptions),
		act(http.MethodPost, "subscribe", "/subscriptions", true, false, s.handleSubscribe),
		get("dashboard", "/dashboard", true, false, s.handleDashboard),

		get("admin", "/admin", true, true, s.handleAdminSummary),
		get("admin-subscriptions", "/admin/subscriptions", true, true, s.handleAdminSubscriptions),
		get("admin-user", "/admin/users/{id}", true, true, s.handleAdminUser),
		get("admin-stats", "/admin/stats", true, true, s.handleAdminStats),
		act(http.MethodPost, "add-meal-plan", "/admin/meal-plans", true, true, s.handleAddMealPlan),
		act(http.MethodPut, "update-meal-plan", "/admin/meal-plans/{id}", true, true, s.handleUpdateMealPlan),
		act(http.MethodDelete, "delete-meal-plan", "/admin/meal-plans/{id}", true, true, s.handleDeleteMealPlan),
		act(http.MethodDelete, "delete-testimonial", "/admin/testimonials/{id}", true, true, s.handleDeleteTestimonial),

		get("csrf", "/api/csrf", false, false, s.handleCSRF),
		get("error", "/error", false, false, s.handleError),
	}
}

// Handler builds the mux with the route table behind the guard, plus the
// unguarded health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	header := s.app.CSRF.HeaderName()
	for _, e := range s.routes() {
		pattern := e.method + " " + e.route.Path
		if e.route.Path == "/" {
			pattern = e.method + " /{$}"
		}
		mux.Handle(pattern, s.app.Guard.Middleware(e.route, header)(e.handler))
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	metrics.MustRegister()
	mux.Handle("GET /metrics", promhttp.Handler())

	return Chain(
		httputil.RequestIDMiddleware(s.logger),
		withCommonHeaders,
	)(mux)
}

func withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Security & cache headers
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/metrics") {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		next.ServeHTTP(w, r)
	})
}
