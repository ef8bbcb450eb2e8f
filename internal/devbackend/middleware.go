package devbackend

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	userContextKey   contextKey = "user"
	tokenContextKey  contextKey = "token"
	rejectedTokenKey contextKey = "rejected_token"
)

// tokenCookie is the cookie the sign-in handler sets next to the JSON token.
const tokenCookie = "authToken"

// authenticate attaches the user behind the bearer token, if any, to the
// request context. Requests without a usable token carry on as guests, so a
// stale cookie never blocks signing in again; requireRole answers them with 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := extractBearerToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, payload, err := s.validateTokenAndGetUser(r.Context(), tokenString)
		if err != nil {
			s.log.Debug("rejected bearer token", "path", r.URL.Path, "err", err)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), rejectedTokenKey, true)))
			return
		}

		ctx := context.WithValue(
			context.WithValue(r.Context(), userContextKey, user),
			tokenContextKey, payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole rejects guests with 401 and signed-in users below required with 403.
func (s *Server) requireRole(required models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userFromContext(r.Context())
			if !ok {
				if rejected, _ := r.Context().Value(rejectedTokenKey).(bool); rejected {
					contract.ReturnError(w, s.log, contract.UnauthorizedInvalidToken)
					return
				}
				contract.ReturnError(w, s.log, contract.UnauthorizedMissingToken)
				return
			}
			if !user.Role.AtLeast(required) {
				s.log.Info("access denied", "path", r.URL.Path, "user", user.Email, "role", user.Role, "required", required)
				contract.ReturnError(w, s.log, contract.ForbiddenAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken reads the Authorization header, falling back to the token cookie.
func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
			return c.Value, nil
		}
		return "", errors.New("no authorization header")
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

func (s *Server) validateTokenAndGetUser(ctx context.Context, tokenString string) (*User, *TokenPayload, error) {
	payload, err := s.tokens.Validate(tokenString)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, payload.Subject)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, errors.New("account is inactive")
	}
	return user, payload, nil
}

func userFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey).(*User)
	return u, ok && u != nil
}

func tokenFromContext(ctx context.Context) (*TokenPayload, bool) {
	p, ok := ctx.Value(tokenContextKey).(*TokenPayload)
	return p, ok && p != nil
}

// accessLog logs one line per request at debug level.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
