// Package transport builds the outbound HTTP client every platform call goes
// through. Behaviour is layered as RoundTripper middleware assembled once at
// startup; nothing here touches http.DefaultClient or http.DefaultTransport.
package transport

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"mealgate/webclient/internal/circuitbreaker"
	"mealgate/webclient/internal/csrf"
	"mealgate/webclient/internal/httputil"
	"mealgate/webclient/internal/metrics"

	"github.com/rs/zerolog"
)

// Middleware wraps a RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripFunc adapts a function to http.RoundTripper.
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Chain wraps base with mws. The first middleware sees the request first.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if base == nil {
		base = NewTransport(0)
	}
	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}
	return rt
}

// NewTransport returns a pooled transport tuned for a single upstream host.
func NewTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   timeout / 3,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}
}

// NewClient assembles the client shared by every platform caller. A nil base
// gets NewTransport(timeout).
func NewClient(timeout time.Duration, jar http.CookieJar, base http.RoundTripper, mws ...Middleware) *http.Client {
	if base == nil {
		base = NewTransport(timeout)
	}
	return &http.Client{
		Transport: Chain(base, mws...),
		Jar:       jar,
		Timeout:   timeout,
	}
}

// CSRF attaches the guard's token to every request that is not a GET.
// GET requests reach next untouched. The caller's request is never modified.
func CSRF(g *csrf.Guard) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.Method == "" || req.Method == http.MethodGet {
				return next.RoundTrip(req)
			}
			h, err := csrf.Headers(req.Header)
			if err != nil {
				return nil, err
			}
			if h, err = g.Attach(h); err != nil {
				return nil, err
			}
			out := req.Clone(req.Context())
			out.Header = h
			return next.RoundTrip(out)
		})
	}
}

// Breaker fails fast while b is open. Transport errors and 5xx responses count
// as failures; a 4xx is the platform answering normally.
func Breaker(b *circuitbreaker.Breaker) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			probe, err := b.Allow()
			if err != nil {
				return nil, err
			}
			resp, err := next.RoundTrip(req)
			b.Done(probe, err != nil || resp.StatusCode >= http.StatusInternalServerError)
			return resp, err
		})
	}
}

// UserAgent sets a fixed User-Agent on requests that carry none.
func UserAgent(ua string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("User-Agent") != "" {
				return next.RoundTrip(req)
			}
			out := req.Clone(req.Context())
			out.Header.Set("User-Agent", ua)
			return next.RoundTrip(out)
		})
	}
}

// RequestID forwards the inbound request id, when the context has one.
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			id := httputil.GetRequestID(req.Context())
			if id == "" || req.Header.Get("X-Request-ID") != "" {
				return next.RoundTrip(req)
			}
			out := req.Clone(req.Context())
			out.Header.Set("X-Request-ID", id)
			return next.RoundTrip(out)
		})
	}
}

// Logging writes one debug line per call and records its latency.
func Logging(logger zerolog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			elapsed := time.Since(start)

			status := "error"
			if resp != nil {
				status = strconv.Itoa(resp.StatusCode)
			}
			metrics.PlatformRequestDuration.WithLabelValues(req.Method, status).Observe(elapsed.Seconds())

			ev := logger.Debug()
			if err != nil {
				ev = logger.Warn().Err(err)
			}
			ev.Str("method", req.Method).
				Str("host", req.URL.Host).
				Str("path", req.URL.Path).
				Str("status", status).
				Dur("duration", elapsed).
				Msg("platform request")
			return resp, err
		})
	}
}
