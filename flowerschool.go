// Package flowerschool is the client side of the flower school site: session
// persistence across storage tiers, the auth provider, route admission and
// the booking flow, wired over one backend client.
//
// A Client plays the part of one browser tab. Clients that share a durable
// store and an events.Bus (or a Redis store across processes) observe each
// other's sign-ins and sign-outs.
package flowerschool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/database"
	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/internal/sessionstore"
	"github.com/flowerschoolbengaluru/flowerschool/internal/storage"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/access"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/auth"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/booking"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/events"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/payment"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

// ErrSessionRefused is returned by SignIn when the backend answered without a
// bearer token.
var ErrSessionRefused = errors.New("sign in response carried no session token")

type Client struct {
	log    *slog.Logger
	origin string

	Bus      *events.Bus
	Cookies  *storage.CookieJar
	Session  *sessionstore.Store
	API      *api.Client
	Auth     *auth.Provider
	Guard    *access.Guard
	Checkout payment.Checkout // nil when online payment is not configured

	redis       *storage.Redis
	bookingOpts []booking.Option
	closers     []func() error
	stopWatch   context.CancelFunc
}

type settings struct {
	logger *slog.Logger
	bus    *events.Bus

	db          *sql.DB
	sqlitePath  string
	redisClient *redis.Client
	redisPrefix string

	siteOrigin     string
	timeout        time.Duration
	tracing        bool
	transport      http.RoundTripper
	sampleFallback bool
	navigator      api.Navigator
	notifier       access.Notifier

	cookieDays float64
	devHosts   []string

	checkout      payment.Checkout
	omiseKey      string
	cardPrompter  payment.CardPrompter
	enrollmentRec bool
	currency      string
}

type Option func(*settings)

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLogr logs through a logr.Logger. A logger without a sink is ignored.
func WithLogr(l logr.Logger) Option {
	return func(s *settings) {
		if l.GetSink() != nil {
			s.logger = slog.New(logr.ToSlogHandler(l))
		}
	}
}

// WithBus shares bus with other clients in the same process.
func WithBus(bus *events.Bus) Option {
	return func(s *settings) { s.bus = bus }
}

// WithSqliteDB keeps durable state in db. The caller owns db; migrations are
// applied by New.
func WithSqliteDB(db *sql.DB) Option {
	return func(s *settings) { s.db = db }
}

// WithSqlitePath opens (and on Close, closes) a sqlite durable store at path.
func WithSqlitePath(path string) Option {
	return func(s *settings) { s.sqlitePath = path }
}

// WithRedis keeps durable state in Redis under prefix. Changes made by clients
// in other processes are relayed once Start has been called.
func WithRedis(client *redis.Client, prefix string) Option {
	return func(s *settings) {
		s.redisClient = client
		s.redisPrefix = prefix
	}
}

// WithSiteOrigin sets the origin cookies are scoped to. It defaults to the
// backend base URL.
func WithSiteOrigin(origin string) Option {
	return func(s *settings) { s.siteOrigin = origin }
}

func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

func WithTracing() Option {
	return func(s *settings) { s.tracing = true }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(s *settings) { s.transport = rt }
}

// WithoutSampleFallback makes content feeds report backend failures instead
// of serving the bundled samples.
func WithoutSampleFallback() Option {
	return func(s *settings) { s.sampleFallback = false }
}

func WithNavigator(nav api.Navigator) Option {
	return func(s *settings) { s.navigator = nav }
}

func WithNotifier(n access.Notifier) Option {
	return func(s *settings) { s.notifier = n }
}

func WithCookieDays(days float64) Option {
	return func(s *settings) { s.cookieDays = days }
}

// WithDevHosts replaces the hosts allowed to recover an identity without a
// token cookie. An empty list keeps the defaults.
func WithDevHosts(hosts []string) Option {
	return func(s *settings) {
		if len(hosts) > 0 {
			s.devHosts = hosts
		}
	}
}

func WithCheckout(c payment.Checkout) Option {
	return func(s *settings) { s.checkout = c }
}

// WithOmise enables card payments through Omise. The vendor is only loaded
// the first time a booking pays online.
func WithOmise(publicKey string, prompter payment.CardPrompter) Option {
	return func(s *settings) {
		s.omiseKey = publicKey
		s.cardPrompter = prompter
	}
}

func WithEnrollmentRecord() Option {
	return func(s *settings) { s.enrollmentRec = true }
}

func WithCurrency(code string) Option {
	return func(s *settings) { s.currency = code }
}

// New wires a client for the backend at baseURL. Nothing touches the network
// until Start.
func New(baseURL string, opts ...Option) (*Client, error) {
	s := &settings{sampleFallback: true}
	for _, opt := range opts {
		opt(s)
	}
	log := logutil.OrDiscard(s.logger)
	if s.siteOrigin == "" {
		s.siteOrigin = baseURL
	}
	if s.bus == nil {
		s.bus = events.New(log)
	}

	c := &Client{
		log:    log,
		origin: storage.NewOrigin(),
		Bus:    s.bus,
	}
	log.Info("starting flowerschool client", "backend", baseURL, "origin", c.origin)

	durable, err := c.openDurable(s)
	if err != nil {
		c.Close()
		return nil, err
	}

	site, err := url.Parse(s.siteOrigin)
	if err != nil || site.Host == "" {
		c.Close()
		return nil, fmt.Errorf("invalid site origin %q", s.siteOrigin)
	}
	c.Cookies, err = storage.NewCookieJar(log, site, durable)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c.Session = sessionstore.New(log, sessionstore.Tiers{
		Cookies: c.Cookies,
		Session: storage.NewMemory(log),
		Durable: durable,
	}, c.Bus, sessionstore.Config{
		CookieDays: s.cookieDays,
		DevHosts:   s.devHosts,
		Origin:     c.origin,
	})
	log.Debug("session store loaded", "dev_host", c.Session.DevHost())

	apiOpts := []api.Option{
		api.WithCookieJar(c.Cookies),
		api.WithTokens(c.Session),
		api.WithTimeout(s.timeout),
	}
	if s.transport != nil {
		apiOpts = append(apiOpts, api.WithTransport(s.transport))
	}
	if s.tracing {
		apiOpts = append(apiOpts, api.WithTracing())
	}
	if s.navigator != nil {
		apiOpts = append(apiOpts, api.WithNavigator(s.navigator))
	}
	if !s.sampleFallback {
		apiOpts = append(apiOpts, api.WithoutSampleFallback())
	}
	c.API, err = api.New(log, baseURL, apiOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("creating api client: %w", err)
	}

	// Must be subscribed before the provider so cookies are in sync when it
	// re-reads the store.
	unsub := c.Bus.Subscribe(events.TopicStorageChanged, c.syncCookie)
	c.closers = append(c.closers, func() error { unsub(); return nil })

	c.Auth = auth.New(log, c.Session, c.API, c.Bus, c.origin,
		sessionstore.IdentityKey,
		sessionstore.AdminFlagKey,
		sessionstore.LegacyUserKey,
		sessionstore.LegacyTokenKey,
		storage.PersistedCookieKey(sessionstore.TokenCookie),
	)

	c.Guard = access.New(log, c.Auth, c.Session, c.API, s.navigator, s.notifier)
	c.Guard.LoadDefaultPolicies()
	log.Debug("access guard loaded")

	switch {
	case s.checkout != nil:
		c.Checkout = s.checkout
	case s.omiseKey != "":
		loader := payment.NewLoader(log, payment.OmiseLoader(log, s.omiseKey, s.cardPrompter))
		c.Checkout = payment.NewBackendCheckout(log, c.API, loader)
	}
	if c.Checkout != nil {
		c.bookingOpts = append(c.bookingOpts, booking.WithCheckout(c.Checkout))
	}
	if s.enrollmentRec {
		c.bookingOpts = append(c.bookingOpts, booking.WithEnrollmentRecord())
	}
	if s.currency != "" {
		c.bookingOpts = append(c.bookingOpts, booking.WithCurrency(s.currency))
	}

	return c, nil
}

func (c *Client) openDurable(s *settings) (storage.KV, error) {
	switch {
	case s.redisClient != nil:
		c.redis = storage.NewRedis(c.log, s.redisClient, s.redisPrefix, c.origin)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.redis.Ping(ctx); err != nil {
			return nil, fmt.Errorf("unable to ping redis: %w", err)
		}
		c.log.Debug("successfully connected to redis")
		// Redis announces its own writes; Watch relays them back onto the bus.
		return c.redis, nil

	case s.db != nil:
		if err := s.db.Ping(); err != nil {
			return nil, fmt.Errorf("unable to ping database: %w", err)
		}
		if err := database.RunSqliteMigrations(s.db); err != nil {
			return nil, fmt.Errorf("unable to run migrations: %w", err)
		}
		c.log.Debug("successfully run migrations")
		return storage.Observe(storage.NewSQLite(c.log, s.db), c.Bus, c.origin), nil

	case s.sqlitePath != "":
		db, err := database.OpenSqlite(s.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("opening durable store: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		c.log.Debug("opened durable store", "path", s.sqlitePath)
		return storage.Observe(storage.NewSQLite(c.log, db), c.Bus, c.origin), nil

	default:
		c.log.Debug("durable store is in memory only")
		return storage.Observe(storage.NewMemory(c.log), c.Bus, c.origin), nil
	}
}

// syncCookie mirrors another client's session cookie writes into this jar,
// the way browser tabs share one cookie store.
func (c *Client) syncCookie(e events.Event) {
	if e.Origin == c.origin {
		return
	}
	for _, name := range []string{sessionstore.TokenCookie, sessionstore.SessionCookie} {
		if e.Key != storage.PersistedCookieKey(name) {
			continue
		}
		if e.Deleted {
			c.Cookies.Forget(name)
		} else {
			c.Cookies.Restore(context.Background(), name)
		}
	}
}

// Origin identifies this client in bus events.
func (c *Client) Origin() string {
	return c.origin
}

// Start restores persisted cookies, migrates legacy keys, starts relaying
// Redis changes and mounts the auth provider. It does not wait for the
// backend; use c.Auth.WaitReady for that.
func (c *Client) Start(ctx context.Context) {
	c.Session.RestoreCookies(ctx)
	if c.Session.MigrateLegacy(ctx) {
		c.log.Info("migrated legacy session keys")
	}

	if c.redis != nil && c.stopWatch == nil {
		wctx, cancel := context.WithCancel(ctx)
		c.stopWatch = cancel
		go func() {
			if err := c.redis.Watch(wctx, c.Bus); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Warn("stopped relaying durable changes", "err", err)
			}
		}()
	}

	c.Auth.Start(ctx)
}

// SignIn authenticates with the backend and persists the session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*models.UserSession, error) {
	u, err := c.API.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !c.Auth.Login(ctx, u) {
		return nil, ErrSessionRefused
	}
	return u, nil
}

// SignOut signs out everywhere this client's storage reaches.
func (c *Client) SignOut(ctx context.Context) {
	c.Auth.Logout(ctx)
}

// Enter asks the guard to admit route.
func (c *Client) Enter(ctx context.Context, route string) *access.Admission {
	return c.Guard.Enter(ctx, route)
}

// NewBooking returns a closed booking modal configured for this client. opts
// are applied after the client's own.
func (c *Client) NewBooking(opts ...booking.Option) *booking.Modal {
	all := append(append([]booking.Option{}, c.bookingOpts...), opts...)
	return booking.New(c.log, c.API, all...)
}

// VisibilityRegained tells this client it is in the foreground again.
func (c *Client) VisibilityRegained() {
	c.Bus.Publish(events.Event{Topic: events.TopicVisibilityRegained, Origin: c.origin})
}

// Close stops background work and releases anything New opened.
func (c *Client) Close() error {
	if c.stopWatch != nil {
		c.stopWatch()
	}
	if c.Auth != nil {
		c.Auth.Close()
	}
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	c.closers = nil
	return errors.Join(errs...)
}
