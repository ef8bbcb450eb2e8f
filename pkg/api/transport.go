package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SignInRoute is where an expired session is sent.
const SignInRoute = "/signin"

// TokenSource supplies bearer tokens. It is implemented by the session store.
type TokenSource interface {
	// Token is the preferred token, from the cookie tier.
	Token() string
	// LegacyToken is the fallback key older clients wrote to durable storage.
	LegacyToken(ctx context.Context) string
	ClearLegacyToken(ctx context.Context)
}

// Navigator performs a client side redirect.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a func to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }

type redirectGuardKey struct{}

// WithRedirectGuard marks ctx as one logical request: however many HTTP
// round trips it makes, a 401 redirects to sign-in at most once.
func WithRedirectGuard(ctx context.Context) context.Context {
	if _, ok := ctx.Value(redirectGuardKey{}).(*atomic.Bool); ok {
		return ctx
	}
	return context.WithValue(ctx, redirectGuardKey{}, new(atomic.Bool))
}

// ClaimRedirect reports whether the request in ctx may still redirect to
// sign-in, and if so marks the redirect as taken. A ctx without a guard
// always may.
func ClaimRedirect(ctx context.Context) bool {
	g, ok := ctx.Value(redirectGuardKey{}).(*atomic.Bool)
	if !ok {
		return true
	}
	return g.CompareAndSwap(false, true)
}

// Transport attaches the bearer token to outgoing requests and turns a 401
// on an authenticated request into a single redirect to sign-in. It never
// retries and never alters the response the caller sees.
type Transport struct {
	Base      http.RoundTripper // http.DefaultTransport when nil
	Tokens    TokenSource
	Navigator Navigator // optional
	Log       *slog.Logger
}

// NewTransport wraps base. With tracing set the transport is instrumented
// with OpenTelemetry spans for every request.
func NewTransport(logger *slog.Logger, base http.RoundTripper, tokens TokenSource, nav Navigator, tracing bool) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if tracing {
		base = otelhttp.NewTransport(base)
	}
	return &Transport{Base: base, Tokens: tokens, Navigator: nav, Log: logutil.OrDiscard(logger)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	log := logutil.OrDiscard(t.Log)

	token := ""
	if t.Tokens != nil {
		token = t.Tokens.Token()
		if token == "" {
			token = t.Tokens.LegacyToken(ctx)
		}
	}

	out := req
	if token != "" && req.Header.Get("Authorization") == "" {
		out = req.Clone(ctx)
		out.Header.Set("Authorization", "Bearer "+token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && token != "" && !isCredentialRequest(req.URL.Path) {
		if ClaimRedirect(ctx) {
			log.Info("backend rejected session, redirecting to sign-in", "path", req.URL.Path)
			t.Tokens.ClearLegacyToken(ctx)
			if t.Navigator != nil {
				t.Navigator.Navigate(SignInRoute)
			}
		}
	}
	return resp, nil
}

// isCredentialRequest matches the sign-in and sign-up endpoints, whose 401s
// mean "wrong password" rather than "session expired".
func isCredentialRequest(path string) bool {
	path = strings.TrimSuffix(path, "/")
	return strings.HasSuffix(path, pathSignIn) || strings.HasSuffix(path, pathSignUp)
}
