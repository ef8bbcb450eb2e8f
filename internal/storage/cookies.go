package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"golang.org/x/net/publicsuffix"
)

// persistedCookiePrefix namespaces persisted cookies in the durable tier.
const persistedCookiePrefix = "cookie:"

// CookieOptions are the attributes applied by SetCookie.
type CookieOptions struct {
	// Days until expiry. Zero makes a session cookie that is never persisted.
	Days     float64
	Expires  time.Time // overrides Days when set
	Secure   bool
	SameSite http.SameSite
	Path     string
	Domain   string
}

type persistedCookie struct {
	Value    string        `json:"value"`
	Expires  int64         `json:"expires"` // unix milliseconds
	Secure   bool          `json:"secure,omitempty"`
	SameSite http.SameSite `json:"sameSite,omitempty"`
	Path     string        `json:"path,omitempty"`
	Domain   string        `json:"domain,omitempty"`
}

// CookieJar is the cookie tier for one site origin. It satisfies http.CookieJar,
// so an http.Client using it sends the same cookies the application set.
// Persistent cookies are mirrored into a durable KV so a new client for the
// same origin can Restore them.
type CookieJar struct {
	jar     *cookiejar.Jar
	origin  *url.URL
	persist KV // optional
	log     *slog.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// NewCookieJar returns a jar scoped to origin. persist may be nil.
func NewCookieJar(logger *slog.Logger, origin *url.URL, persist KV) (*CookieJar, error) {
	if origin == nil || origin.Host == "" {
		return nil, fmt.Errorf("cookie jar needs an absolute origin, got %v", origin)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &CookieJar{
		jar:     jar,
		origin:  &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"},
		persist: persist,
		log:     logutil.OrDiscard(logger),
		now:     time.Now,
	}, nil
}

// SecureOrigin reports whether the origin is served over https.
func (j *CookieJar) SecureOrigin() bool {
	return j.origin.Scheme == "https"
}

// Origin returns the site origin the jar is scoped to.
func (j *CookieJar) Origin() *url.URL {
	u := *j.origin
	return &u
}

// SetCookie stores name=value on the origin. It never fails from the caller's
// point of view: a cookie the jar rejects is simply absent afterwards, and
// persistence errors are only logged.
func (j *CookieJar) SetCookie(name, value string, opts CookieOptions) {
	if opts.Secure && !j.SecureOrigin() {
		j.log.Debug("downgrading secure cookie on insecure origin", "name", name, "origin", j.origin.String())
		opts.Secure = false
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}

	expires := opts.Expires
	if expires.IsZero() && opts.Days > 0 {
		expires = j.now().Add(time.Duration(opts.Days * float64(24*time.Hour)))
	}

	c := &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  expires,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	}

	j.mu.Lock()
	j.jar.SetCookies(j.origin, []*http.Cookie{c})
	j.mu.Unlock()

	if expires.IsZero() {
		return
	}
	j.persistCookie(name, persistedCookie{
		Value:    value,
		Expires:  expires.UnixMilli(),
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
		Path:     opts.Path,
		Domain:   opts.Domain,
	})
}

// GetCookie returns the decoded value of name, if the jar holds it.
func (j *CookieJar) GetCookie(name string) (string, bool) {
	j.mu.Lock()
	cookies := j.jar.Cookies(j.origin)
	j.mu.Unlock()

	for _, c := range cookies {
		if c.Name != name {
			continue
		}
		v, err := url.QueryUnescape(c.Value)
		if err != nil {
			return c.Value, true
		}
		return v, true
	}
	return "", false
}

// PersistedCookieKey is the durable tier key the cookie name is mirrored under.
func PersistedCookieKey(name string) string {
	return persistedCookiePrefix + name
}

// Forget expires name in this jar only. Another client sharing the durable
// tier already removed the persisted copy.
func (j *CookieJar) Forget(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(j.origin, []*http.Cookie{{Name: name, Path: "/", MaxAge: -1}})
}

// DeleteCookie expires name immediately and forgets its persisted copy.
func (j *CookieJar) DeleteCookie(name string) {
	j.deleteCookie(name, "/", "")
}

// DeleteCookieAt expires a cookie that was set with a non-default path or domain.
func (j *CookieJar) DeleteCookieAt(name, path, domain string) {
	j.deleteCookie(name, path, domain)
}

func (j *CookieJar) deleteCookie(name, path, domain string) {
	j.mu.Lock()
	j.jar.SetCookies(j.origin, []*http.Cookie{{
		Name:   name,
		Path:   path,
		Domain: domain,
		MaxAge: -1,
	}})
	j.mu.Unlock()

	if j.persist == nil {
		return
	}
	logutil.Swallow(j.log, "failed to forget persisted cookie", func() error {
		return j.persist.Delete(context.Background(), persistedCookiePrefix+name)
	}, "name", name)
}

// Restore loads the named cookies from the durable tier into the jar. Expired
// entries are removed instead.
func (j *CookieJar) Restore(ctx context.Context, names ...string) {
	if j.persist == nil {
		return
	}
	for _, name := range names {
		raw, ok, err := j.persist.Get(ctx, persistedCookiePrefix+name)
		if err != nil {
			j.log.Warn("failed to read persisted cookie", "name", name, "err", err)
			continue
		}
		if !ok {
			continue
		}

		var pc persistedCookie
		if err := json.Unmarshal([]byte(raw), &pc); err != nil {
			j.log.Warn("dropping unreadable persisted cookie", "name", name, "err", err)
			_ = j.persist.Delete(ctx, persistedCookiePrefix+name)
			continue
		}

		expires := time.UnixMilli(pc.Expires)
		if !expires.After(j.now()) {
			j.log.Debug("dropping expired persisted cookie", "name", name)
			_ = j.persist.Delete(ctx, persistedCookiePrefix+name)
			continue
		}

		j.mu.Lock()
		j.jar.SetCookies(j.origin, []*http.Cookie{{
			Name:     name,
			Value:    url.QueryEscape(pc.Value),
			Path:     pc.Path,
			Domain:   pc.Domain,
			Expires:  expires,
			Secure:   pc.Secure && j.SecureOrigin(),
			SameSite: pc.SameSite,
		}})
		j.mu.Unlock()
		j.log.Debug("restored persisted cookie", "name", name)
	}
}

func (j *CookieJar) persistCookie(name string, pc persistedCookie) {
	if j.persist == nil {
		return
	}
	logutil.Swallow(j.log, "failed to persist cookie", func() error {
		raw, err := json.Marshal(pc)
		if err != nil {
			return err
		}
		return j.persist.Set(context.Background(), persistedCookiePrefix+name, string(raw))
	}, "name", name)
}

// SetCookies implements http.CookieJar for responses from any host.
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}
