package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"mealgate/webclient/internal/authz"
	"mealgate/webclient/internal/platform"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	userID  = uuid.MustParse("3b8f6a2e-1c4d-4e7f-9a0b-2c3d4e5f6a7b")
	adminID = uuid.MustParse("9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b")
)

type call struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// decode unmarshals the request body into v.
func (c call) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(c.Body, v), string(c.Body))
}

// fakeBackend stands in for the PostgREST and GoTrue endpoints.
type fakeBackend struct {
	t      *testing.T
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  []call
}

func newBackend(t *testing.T) (*fakeBackend, *platform.Client) {
	t.Helper()
	b := &fakeBackend{t: t, routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	c, err := platform.New(srv.URL, "anon", srv.Client(), nil)
	require.NoError(t, err)
	return b, c
}

func (b *fakeBackend) on(pattern string, h http.HandlerFunc) { b.routes[pattern] = h }

// reply answers pattern with a fixed status and JSON body.
func (b *fakeBackend) reply(pattern string, status int, body any) {
	b.on(pattern, func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, status, body) })
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.calls = append(b.calls, call{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone(), Body: body})
	b.mu.Unlock()
	h, ok := b.routes[r.Method+" "+r.URL.Path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no route " + r.Method + " " + r.URL.Path})
		return
	}
	h(w, r)
}

// recorded returns the calls matching "METHOD /path", in order.
func (b *fakeBackend) recorded(pattern string) []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []call
	for _, c := range b.calls {
		if c.Method+" "+c.Path == pattern {
			out = append(out, c)
		}
	}
	return out
}

func (b *fakeBackend) all() []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]call(nil), b.calls...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// stubAuthz mirrors authz.Authorizer without a platform.
type stubAuthz struct {
	user  *platform.User
	admin bool
	err   error
}

func anonymous() *stubAuthz { return &stubAuthz{} }

func member() *stubAuthz {
	return &stubAuthz{user: &platform.User{ID: userID, Email: "dewi@example.com"}}
}

func administrator() *stubAuthz {
	return &stubAuthz{user: &platform.User{ID: adminID, Email: "admin@example.com"}, admin: true}
}

func (s *stubAuthz) CurrentUser(context.Context) (*platform.User, error) { return s.user, s.err }

func (s *stubAuthz) RequireUser(ctx context.Context) (*platform.User, error) {
	u, err := s.CurrentUser(ctx)
	if err != nil || u == nil {
		return nil, authz.ErrUnauthenticated
	}
	return u, nil
}

func (s *stubAuthz) RequireAdmin(ctx context.Context) (*platform.User, error) {
	u, err := s.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if !s.admin {
		return nil, authz.ErrForbidden
	}
	return u, nil
}
