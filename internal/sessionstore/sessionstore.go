// Package sessionstore is the single authority for persisting, recovering and
// clearing the signed-in identity across the cookie, session and durable tiers.
//
// Nothing in this package returns an error. Storage failures are logged and
// read as "no session".
package sessionstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/internal/storage"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/events"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/golang-jwt/jwt/v5"
)

// Client side storage layout. These names are shared with older clients of
// the same site and must not change.
const (
	TokenCookie      = "authToken"
	SessionCookie    = "sessionId"
	IdentityKey      = "userSession"
	AdminFlagKey     = "isAdmin"
	SchemaVersionKey = "sessionSchemaVersion"

	LegacyTokenKey   = "sessionToken"
	LegacyUserKey    = "user"
	legacyUserIDKey  = "userId"
	legacyEmailKey   = "userEmail"
	legacyNameKey    = "userName"
	currentSchemaVer = "2"
)

var legacyKeys = []string{LegacyTokenKey, LegacyUserKey, legacyUserIDKey, legacyEmailKey, legacyNameKey}

// DefaultDevHosts are trusted to recover identity without a token cookie.
// A leading "*." matches any subdomain.
var DefaultDevHosts = []string{"localhost", "127.0.0.1", "::1", "0.0.0.0", "*.local"}

// CookieTier is the subset of storage.CookieJar the store writes through.
type CookieTier interface {
	SetCookie(name, value string, opts storage.CookieOptions)
	GetCookie(name string) (string, bool)
	DeleteCookie(name string)
	SecureOrigin() bool
	Origin() *url.URL
}

// Tiers groups the three storage mechanisms.
type Tiers struct {
	Cookies CookieTier
	Session storage.KV
	Durable storage.KV
}

// Config tunes the store. The zero value is usable.
type Config struct {
	// CookieDays is the cookie lifetime when the bearer token carries no expiry.
	CookieDays float64
	// DevHosts overrides DefaultDevHosts.
	DevHosts []string
	// Origin tags auth.changed events raised by this store.
	Origin string
}

// Store persists one identity. It is safe for concurrent use as long as the
// tiers are; concurrent writers follow last-writer-wins.
type Store struct {
	log     *slog.Logger
	tiers   Tiers
	bus     events.Publisher
	cfg     Config
	devHost bool

	now          func() time.Time
	newSessionID func() string
}

// New returns a Store over tiers. bus may be nil.
func New(logger *slog.Logger, tiers Tiers, bus events.Publisher, cfg Config) *Store {
	if cfg.CookieDays <= 0 {
		cfg.CookieDays = 7
	}
	if cfg.DevHosts == nil {
		cfg.DevHosts = DefaultDevHosts
	}

	s := &Store{
		log:          logutil.OrDiscard(logger),
		tiers:        tiers,
		bus:          bus,
		cfg:          cfg,
		now:          time.Now,
		newSessionID: storage.NewSessionID,
	}
	s.devHost = IsDevHost(tiers.Cookies.Origin().Hostname(), cfg.DevHosts)
	return s
}

// IsDevHost reports whether host matches one of patterns.
func IsDevHost(host string, patterns []string) bool {
	host = strings.ToLower(strings.Trim(host, "[]"))
	for _, p := range patterns {
		p = strings.ToLower(p)
		if suffix, ok := strings.CutPrefix(p, "*"); ok {
			if strings.HasSuffix(host, suffix) {
				return true
			}
			continue
		}
		if host == p {
			return true
		}
	}
	return false
}

// DevHost reports whether the store trusts tokenless identities.
func (s *Store) DevHost() bool {
	return s.devHost
}

// SaveUser persists u. A session without a bearer token is refused, logged
// and reported as false. A fresh session id is generated for every save.
func (s *Store) SaveUser(ctx context.Context, u *models.UserSession) bool {
	if u == nil || u.BearerToken == "" {
		s.log.Warn("refusing to save session without bearer token")
		return false
	}

	sid := s.newSessionID()
	opts := s.cookieOptions(u.BearerToken)
	s.setCookie(TokenCookie, u.BearerToken, opts)
	s.setCookie(SessionCookie, sid, opts)

	rec := u.Record()
	rec.SessionID = sid
	rec.LastUpdated = s.now().UnixMilli()
	s.writeIdentity(ctx, rec)

	if s.bus != nil {
		s.bus.Publish(events.Event{Topic: events.TopicAuthChanged, Origin: s.cfg.Origin, Key: IdentityKey})
	}
	s.log.Info("saved session", "user_id", u.ID, "session_id", sid)
	return true
}

// SaveRecovered writes identity recovered from the backend without a token.
// The cookies are left untouched and no auth.changed event is raised.
func (s *Store) SaveRecovered(ctx context.Context, u *models.UserSession) {
	if u == nil || u.ID == "" {
		return
	}
	rec := u.Record()
	if sid, ok := s.getCookie(SessionCookie); ok {
		rec.SessionID = sid
	}
	rec.LastUpdated = s.now().UnixMilli()
	s.writeIdentity(ctx, rec)
	s.log.Debug("saved recovered identity", "user_id", u.ID)
}

// GetUser returns the stored session or nil.
//
// The session tier is preferred; the durable tier is the fallback and
// rehydrates the session tier. Identity without a token cookie is purged,
// except on development hosts where it is returned with an empty token.
func (s *Store) GetUser(ctx context.Context) *models.UserSession {
	rec, ok := s.readIdentity(ctx)
	if !ok {
		return nil
	}

	token, hasToken := s.getCookie(TokenCookie)
	if !hasToken || token == "" {
		if !s.devHost {
			s.log.Debug("identity without token, purging", "user_id", rec.ID)
			s.ClearUser(ctx)
			return nil
		}
	}

	u := rec.Session(token)
	if s.AdminFlag(ctx) {
		u.Role = models.RoleAdmin
	}
	return u
}

// Token returns the bearer token cookie, if any.
func (s *Store) Token() string {
	t, _ := s.getCookie(TokenCookie)
	return t
}

// IsAuthenticated is true iff GetUser returns a session.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	return s.GetUser(ctx) != nil
}

// ClearUser removes the identity from every tier, both cookies, the admin
// flag and all legacy keys.
func (s *Store) ClearUser(ctx context.Context) {
	s.del(ctx, s.tiers.Session, models.TierSession, IdentityKey)
	s.del(ctx, s.tiers.Durable, models.TierDurable, IdentityKey)
	s.del(ctx, s.tiers.Durable, models.TierDurable, AdminFlagKey)
	for _, k := range legacyKeys {
		s.del(ctx, s.tiers.Durable, models.TierDurable, k)
	}
	s.deleteCookie(TokenCookie)
	s.deleteCookie(SessionCookie)
	s.log.Info("cleared session")
}

// SetAdminFlag writes the durable admin flag as "true" or "false".
func (s *Store) SetAdminFlag(ctx context.Context, admin bool) {
	v := "false"
	if admin {
		v = "true"
	}
	s.set(ctx, s.tiers.Durable, models.TierDurable, AdminFlagKey, v)
}

// AdminFlag reads the durable admin flag.
func (s *Store) AdminFlag(ctx context.Context) bool {
	v, ok := s.get(ctx, s.tiers.Durable, models.TierDurable, AdminFlagKey)
	return ok && v == "true"
}

// LegacyAdminFlag reports whether the legacy user blob names an admin.
func (s *Store) LegacyAdminFlag(ctx context.Context) bool {
	acct, ok := s.legacyAccount(ctx)
	return ok && acct.Role() == models.RoleAdmin
}

// LegacyToken returns the legacy durable token key.
func (s *Store) LegacyToken(ctx context.Context) string {
	v, _ := s.get(ctx, s.tiers.Durable, models.TierDurable, LegacyTokenKey)
	return v
}

func (s *Store) ClearLegacyToken(ctx context.Context) {
	s.del(ctx, s.tiers.Durable, models.TierDurable, LegacyTokenKey)
}

// RestoreCookies reloads persisted cookies, when the cookie tier supports it.
func (s *Store) RestoreCookies(ctx context.Context) {
	if r, ok := s.tiers.Cookies.(interface {
		Restore(context.Context, ...string)
	}); ok {
		r.Restore(ctx, TokenCookie, SessionCookie)
	}
}

func (s *Store) cookieOptions(token string) storage.CookieOptions {
	opts := storage.CookieOptions{
		Days:   s.cfg.CookieDays,
		Secure: s.tiers.Cookies.SecureOrigin(),
	}
	if exp, ok := tokenExpiry(token); ok && exp.After(s.now()) {
		opts.Expires = exp
	}
	return opts
}

// tokenExpiry reads the exp claim of a JWT without verifying it. The client
// has no key; the value only bounds how long the cookie is kept.
func tokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func (s *Store) writeIdentity(ctx context.Context, rec models.IdentityRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn("failed to encode identity record", "err", err)
		return
	}
	s.set(ctx, s.tiers.Session, models.TierSession, IdentityKey, string(raw))
	s.set(ctx, s.tiers.Durable, models.TierDurable, IdentityKey, string(raw))
}

func (s *Store) readIdentity(ctx context.Context) (models.IdentityRecord, bool) {
	if raw, ok := s.get(ctx, s.tiers.Session, models.TierSession, IdentityKey); ok {
		if rec, ok := s.decodeIdentity(ctx, s.tiers.Session, models.TierSession, raw); ok {
			return rec, true
		}
	}

	raw, ok := s.get(ctx, s.tiers.Durable, models.TierDurable, IdentityKey)
	if !ok {
		return models.IdentityRecord{}, false
	}
	rec, ok := s.decodeIdentity(ctx, s.tiers.Durable, models.TierDurable, raw)
	if !ok {
		return models.IdentityRecord{}, false
	}
	s.set(ctx, s.tiers.Session, models.TierSession, IdentityKey, raw)
	return rec, true
}

// decodeIdentity drops an unreadable record from its tier.
func (s *Store) decodeIdentity(ctx context.Context, kv storage.KV, tier, raw string) (models.IdentityRecord, bool) {
	var rec models.IdentityRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.ID == "" {
		s.log.Warn("dropping unreadable identity record", "tier", tier, "err", err)
		s.del(ctx, kv, tier, IdentityKey)
		return models.IdentityRecord{}, false
	}
	return rec, true
}

func (s *Store) legacyAccount(ctx context.Context) (models.Account, bool) {
	raw, ok := s.get(ctx, s.tiers.Durable, models.TierDurable, LegacyUserKey)
	if !ok {
		return models.Account{}, false
	}
	var acct models.Account
	if err := json.Unmarshal([]byte(raw), &acct); err != nil {
		s.log.Debug("ignoring unreadable legacy user blob", "err", err)
		return models.Account{}, false
	}
	return acct, true
}

func (s *Store) get(ctx context.Context, kv storage.KV, tier, key string) (string, bool) {
	var (
		v     string
		found bool
	)
	ok := logutil.Swallow(s.log, "failed to read client storage", func() error {
		var err error
		v, found, err = kv.Get(ctx, key)
		return err
	}, "tier", tier, "key", key)
	return v, ok && found
}

func (s *Store) set(ctx context.Context, kv storage.KV, tier, key, value string) bool {
	return logutil.Swallow(s.log, "failed to write client storage", func() error {
		return kv.Set(ctx, key, value)
	}, "tier", tier, "key", key)
}

func (s *Store) del(ctx context.Context, kv storage.KV, tier, key string) {
	logutil.Swallow(s.log, "failed to delete client storage", func() error {
		return kv.Delete(ctx, key)
	}, "tier", tier, "key", key)
}

func (s *Store) setCookie(name, value string, opts storage.CookieOptions) {
	logutil.Swallow(s.log, "failed to set cookie", func() error {
		s.tiers.Cookies.SetCookie(name, value, opts)
		return nil
	}, "name", name)
}

func (s *Store) getCookie(name string) (string, bool) {
	var (
		v     string
		found bool
	)
	ok := logutil.Swallow(s.log, "failed to read cookie", func() error {
		v, found = s.tiers.Cookies.GetCookie(name)
		return nil
	}, "name", name)
	return v, ok && found
}

func (s *Store) deleteCookie(name string) {
	logutil.Swallow(s.log, "failed to delete cookie", func() error {
		s.tiers.Cookies.DeleteCookie(name)
		return nil
	}, "name", name)
}
