package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mealgate/webclient/internal/authz"
	"mealgate/webclient/internal/config"
	"mealgate/webclient/internal/platform"
	"mealgate/webclient/internal/sanitize"
	"mealgate/webclient/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memberID = "5d2c1b0a-9f8e-4d7c-8b6a-5f4e3d2c1b0a"

// fakePlatform answers the handful of auth and table calls the app makes.
type fakePlatform struct {
	admin    atomic.Bool
	inserted atomic.Int32
}

func accessToken(t *testing.T) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   memberID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("not-checked-by-the-client"))
	require.NoError(t, err)
	return tok
}

func (f *fakePlatform) handler(t *testing.T) http.Handler {
	user := map[string]any{"id": memberID, "email": "sari@example.com", "created_at": "2026-01-02T03:04:05Z"}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "Rahasia#2026" {
			reply(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"access_token": accessToken(t), "refresh_token": "r1", "expires_in": 3600, "user": user})
	})
	mux.HandleFunc("GET /auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, user)
	})
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"is_admin": f.admin.Load()})
	})
	mux.HandleFunc("GET /rest/v1/meal_plans", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{{"id": 1, "name": "Diet Plan", "price_per_meal": 30000, "meal_plan_details": []any{}}})
	})
	mux.HandleFunc("GET /rest/v1/testimonials", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []any{})
	})
	mux.HandleFunc("POST /rest/v1/testimonials", func(w http.ResponseWriter, r *http.Request) {
		f.inserted.Add(1)
		reply(w, http.StatusCreated, []map[string]any{{"id": 7, "name": "Sari", "review": "Enak", "rating": 5}})
	})
	mux.HandleFunc("GET /rest/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []any{})
	})
	return mux
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type stack struct {
	app     *App
	handler http.Handler
	fake    *fakePlatform
	token   string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	fake := &fakePlatform{}
	remote := httptest.NewServer(fake.handler(t))
	t.Cleanup(remote.Close)

	cfg := config.Default()
	cfg.Platform.URL = remote.URL
	cfg.Platform.AnonKey = "anon"
	app, err := Build(cfg, zerolog.Nop())
	require.NoError(t, err)
	tok, err := app.CSRF.Issue()
	require.NoError(t, err)
	return &stack{app: app, handler: New(app, zerolog.Nop()).Handler(), fake: fake, token: tok}
}

func (s *stack) do(t *testing.T, method, target string, body any, withToken bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	if withToken {
		req.Header.Set(s.app.CSRF.HeaderName(), s.token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *stack) signIn(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/login", map[string]string{"email": "sari@example.com", "password": "Rahasia#2026"}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_AnonymousDashboardRedirectsToLogin(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodGet, "/dashboard?tab=plans", nil, false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?redirect="+url.QueryEscape("/dashboard?tab=plans"), rec.Header().Get("Location"))
}

func TestServer_PublicPagesAllowAnonymous(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodGet, "/", nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeResult(t, rec)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	plans := data["meal_plans"].([]any)
	require.Len(t, plans, 1)
	assert.Equal(t, "Rp30.000 / meal", plans[0].(map[string]any)["price"])
	assert.Nil(t, data["user"])
}

func TestServer_MutationWithoutTokenIsForbidden(t *testing.T) {
	s := newStack(t)
	body := map[string]any{"name": "Sari", "review": "Enak", "rating": 5}

	rec := s.do(t, http.MethodPost, "/testimonials", body, false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/error?code=403", rec.Header().Get("Location"))
	assert.Zero(t, s.fake.inserted.Load(), "platform must not be called")

	rec = s.do(t, http.MethodPost, "/testimonials", body, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int32(1), s.fake.inserted.Load())
}

func TestServer_TokenInQueryIsAccepted(t *testing.T) {
	s := newStack(t)
	body := map[string]any{"name": "Sari", "review": "Enak", "rating": 5}
	rec := s.do(t, http.MethodPost, "/testimonials?csrf_token="+s.token, body, false)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestServer_InvalidRatingIsBadRequest(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodPost, "/testimonials", map[string]any{"name": "Sari", "review": "Enak", "rating": 9}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeResult(t, rec)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "rating", out["field"])
	assert.Equal(t, "Rating must be between 1 and 5", out["error"])
}

func TestServer_CSRFEndpoint(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodGet, "/api/csrf", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResult(t, rec)
	data := out["data"].(map[string]any)
	assert.Equal(t, s.token, data["token"])
	assert.Equal(t, "X-CSRF-Token", data["header"])
	assert.Equal(t, "csrf_token", data["param"])

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "csrf-token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, s.token, cookie.Value)
	assert.False(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestServer_LoginValidation(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodPost, "/login", map[string]string{"email": "not-an-email", "password": "x"}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeResult(t, rec)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "email", out["field"])
	assert.Equal(t, sanitize.ReasonEmail, out["error"])
}

func TestServer_LoginWrongPassword(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodPost, "/login", map[string]string{"email": "sari@example.com", "password": "wrong"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeResult(t, rec)["error"], "Invalid login credentials")
}

func TestServer_LoginReturnsSanitizedRedirect(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodPost, "/login", map[string]string{
		"email": "sari@example.com", "password": "Rahasia#2026", "redirect": "//evil.example",
	}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeResult(t, rec)["data"].(map[string]any)
	assert.Equal(t, "/", data["redirect"])
	assert.Equal(t, "sari@example.com", data["user"].(map[string]any)["email"])
}

func TestServer_SignedInReachesDashboard(t *testing.T) {
	s := newStack(t)
	s.signIn(t)

	rec := s.do(t, http.MethodGet, "/dashboard", nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeResult(t, rec)["data"].(map[string]any)
	assert.Equal(t, memberID, data["user"].(map[string]any)["id"])
}

func TestServer_AdminRoutes(t *testing.T) {
	s := newStack(t)
	s.signIn(t)

	rec := s.do(t, http.MethodGet, "/admin/subscriptions", nil, false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	s.fake.admin.Store(true)
	rec = s.do(t, http.MethodGet, "/admin/subscriptions", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/admin?start=31-03-2026", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "start", decodeResult(t, rec)["field"])

	rec = s.do(t, http.MethodGet, "/admin/users/not-a-uuid", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/stats", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats["guard"], "allow")
	assert.Contains(t, stats["system"], "uptime_sec")
	assert.Contains(t, stats["csrf"], "failures")
}

func TestServer_LogoutNeedsToken(t *testing.T) {
	s := newStack(t)
	s.signIn(t)

	rec := s.do(t, http.MethodPost, "/logout", nil, false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/error?code=403", rec.Header().Get("Location"))

	rec = s.do(t, http.MethodPost, "/logout", nil, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/dashboard", nil, false)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeResult(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, Version, out["version"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	s.do(t, http.MethodGet, "/meal-plans", nil, false)
	rec = s.do(t, http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mealgate_guard_decision_total")
	assert.Contains(t, rec.Body.String(), "mealgate_platform_request_duration_seconds")
}

func TestServer_ErrorPage(t *testing.T) {
	s := newStack(t)
	rec := s.do(t, http.MethodGet, "/error?code=403", nil, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodGet, "/error?code=abc", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MalformedBody(t *testing.T) {
	s := newStack(t)
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed request body", decodeResult(t, rec)["error"])
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&sanitize.ValidationError{Field: "email", Reason: sanitize.ReasonEmail}, http.StatusBadRequest},
		{service.ErrInvalidRating, http.StatusBadRequest},
		{service.ErrTooManyAttempts, http.StatusTooManyRequests},
		{fmt.Errorf("update: %w", authz.ErrUnauthenticated), http.StatusUnauthorized},
		{platform.ErrNoSession, http.StatusUnauthorized},
		{authz.ErrForbidden, http.StatusForbidden},
		{service.ErrNotFound, http.StatusNotFound},
		{&platform.Error{Status: http.StatusConflict, Message: "duplicate key"}, http.StatusBadRequest},
		{&platform.Error{Status: http.StatusServiceUnavailable, Message: "down"}, http.StatusBadGateway},
		{&url.Error{Op: "Get", URL: "http://x", Err: errors.New("refused")}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusBadGateway},
		{fmt.Errorf("%w: GET /rest/v1/meal_plans", platform.ErrResponseTooLarge), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.err.Error(), func(t *testing.T) {
			assert.Equal(t, c.want, statusFor(c.err))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "internal error", message(errors.New("secret detail")))
	assert.Equal(t, "sign in required", message(authz.ErrUnauthenticated))
	assert.Equal(t, "duplicate key (try another email)",
		message(&platform.Error{Status: http.StatusConflict, Message: "duplicate key", Hint: "try another email"}))
}
