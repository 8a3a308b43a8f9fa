package csrf

import (
	"fmt"
	"iter"
	"net/http"
	"sync"

	"mealgate/webclient/internal/metrics"

	"github.com/rs/zerolog/log"
)

const DefaultHeaderName = "X-CSRF-Token"

type Guard struct {
	store      TokenStore
	tokenBytes int
	header     string

	mu sync.Mutex // serializes issue-if-absent in Attach
}

func NewGuard(store TokenStore, tokenBytes int, headerName string) *Guard {
	if tokenBytes <= 0 {
		tokenBytes = DefaultTokenBytes
	}
	if headerName == "" {
		headerName = DefaultHeaderName
	}
	return &Guard{store: store, tokenBytes: tokenBytes, header: headerName}
}

func (g *Guard) HeaderName() string { return g.header }

// Issue replaces the stored token with a fresh one.
func (g *Guard) Issue() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.Generate(g.tokenBytes)
}

// Token returns the stored token, issuing one when none exists.
func (g *Guard) Token() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tok, ok := g.store.Read(); ok {
		return tok, nil
	}
	return g.store.Generate(g.tokenBytes)
}

// Verify reports whether candidate equals the stored token. It fails closed.
func (g *Guard) Verify(candidate string) bool {
	if candidate == "" {
		fail("missing")
		return false
	}
	stored, ok := g.store.Read()
	if !ok {
		fail("no_stored_token")
		return false
	}
	if !ConstantTimeEqual(stored, candidate) {
		fail("mismatch")
		return false
	}
	return true
}

func fail(reason string) {
	metrics.CSRFFailures.WithLabelValues(reason).Inc()
	log.Warn().Str("event", "csrf_failure").Str("reason", reason).Msg("csrf token verification failed")
}

// ConstantTimeEqual compares a and b without returning early on the first
// differing byte. Inputs of different length are rejected before any byte is read.
func ConstantTimeEqual(a, b string) bool {
	return constantTimeEqual(a, b, nil)
}

func constantTimeEqual(a, b string, visit func(i int)) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := 0; i < len(a); i++ {
		if visit != nil {
			visit(i)
		}
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}

// Attach returns a copy of headers carrying the CSRF token. The input is not modified.
func (g *Guard) Attach(headers http.Header) (http.Header, error) {
	tok, err := g.Token()
	if err != nil {
		return nil, fmt.Errorf("csrf: issue token: %w", err)
	}
	out := headers.Clone()
	if out == nil {
		out = make(http.Header, 1)
	}
	out.Set(g.header, tok)
	return out, nil
}

// Headers normalizes the header shapes callers hand around into an http.Header.
// The result never aliases src.
func Headers(src any) (http.Header, error) {
	out := make(http.Header)
	switch h := src.(type) {
	case nil:
	case http.Header:
		for k, vs := range h {
			for _, v := range vs {
				out.Add(k, v)
			}
		}
	case map[string][]string:
		for k, vs := range h {
			for _, v := range vs {
				out.Add(k, v)
			}
		}
	case map[string]string:
		for k, v := range h {
			out.Set(k, v)
		}
	case [][2]string:
		for _, kv := range h {
			out.Add(kv[0], kv[1])
		}
	case iter.Seq2[string, string]:
		for k, v := range h {
			out.Add(k, v)
		}
	case func(yield func(string, string) bool):
		for k, v := range h {
			out.Add(k, v)
		}
	default:
		return nil, fmt.Errorf("csrf: unsupported header representation %T", src)
	}
	return out, nil
}
