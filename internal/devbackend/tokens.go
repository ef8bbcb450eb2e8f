package devbackend

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrTokenRevoked = errors.New("token has been revoked")

// TokenPayload is the claim set of an issued bearer token.
type TokenPayload struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues HS256 bearer tokens and remembers the revoked ones until
// they would have expired anyway.
type Tokens struct {
	log      *slog.Logger
	secret   []byte
	duration time.Duration
	now      func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> original expiry
}

// NewTokens returns a Tokens signing with secret.
func NewTokens(logger *slog.Logger, secret string, duration time.Duration) *Tokens {
	return &Tokens{
		log:      logutil.OrDiscard(logger),
		secret:   []byte(secret),
		duration: duration,
		now:      time.Now,
		revoked:  make(map[string]time.Time),
	}
}

// Issue signs a token for u.
func (t *Tokens) Issue(u *User) (string, error) {
	now := t.now()
	payload := TokenPayload{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.duration)),
			Subject:   u.ID,
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(t.secret)
}

// Parse checks the signature and expiry of tokenStr. It does not check revocation.
func (t *Tokens) Parse(tokenStr string) (*TokenPayload, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &TokenPayload{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, err
	}

	payload, ok := token.Claims.(*TokenPayload)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token or claims")
	}
	return payload, nil
}

// Validate parses tokenStr and rejects revoked tokens.
func (t *Tokens) Validate(tokenStr string) (*TokenPayload, error) {
	payload, err := t.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if t.IsRevoked(payload) {
		return nil, ErrTokenRevoked
	}
	return payload, nil
}

// Revoke invalidates p before it expires.
func (t *Tokens) Revoke(p *TokenPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeLocked()

	exp := t.now().Add(t.duration)
	if p.ExpiresAt != nil {
		exp = p.ExpiresAt.Time
	}
	t.revoked[p.ID] = exp
	t.log.Debug("revoked token", "jti", p.ID, "sub", p.Subject)
}

// IsRevoked reports whether p was revoked.
func (t *Tokens) IsRevoked(p *TokenPayload) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.revoked[p.ID]
	return ok
}

// purgeLocked forgets revocations of tokens that have expired since.
func (t *Tokens) purgeLocked() {
	now := t.now()
	for id, exp := range t.revoked {
		if now.After(exp) {
			delete(t.revoked, id)
		}
	}
}
