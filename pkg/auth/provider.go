// Package auth keeps an in-memory, observable view of the signed-in user on
// top of the session store, and revalidates it against the backend.
//
// The store stays the source of truth for what this client knows; the
// backend stays the source of truth for whether the session is still good.
// The provider only caches and reconciles the two.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/events"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

// State is the coarse provider state.
type State int

const (
	Initializing State = iota
	ReadyAuthenticated
	ReadyAnonymous
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case ReadyAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Phase records how far an authenticated state has been confirmed.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseOptimistic Phase = "optimistic" // trusted from client storage, backend not yet asked
	PhaseVerified   Phase = "verified"   // the backend confirmed the identity
	PhaseRevoked    Phase = "revoked"    // the backend disagreed and the session was dropped
)

// Snapshot is an immutable view of the provider.
type Snapshot struct {
	User            *models.UserSession
	State           State
	Phase           Phase
	Ready           bool
	IsAuthenticated bool
	IsAdmin         bool
	// LastError is the most recent background validation failure. It does not
	// by itself revoke the session.
	LastError error
}

// Store is the part of the session store the provider uses.
type Store interface {
	GetUser(ctx context.Context) *models.UserSession
	SaveUser(ctx context.Context, u *models.UserSession) bool
	SaveRecovered(ctx context.Context, u *models.UserSession)
	ClearUser(ctx context.Context)
	SetAdminFlag(ctx context.Context, admin bool)
}

// Backend is the part of the API client the provider uses.
type Backend interface {
	CurrentUser(ctx context.Context) (*models.Account, error)
	SignOut(ctx context.Context) error
}

// Subscriber is implemented by *events.Bus.
type Subscriber interface {
	Subscribe(topic events.Topic, h events.Handler) func()
}

// ErrRevoked is recorded as LastError when a session is revoked without a more specific reason.
var ErrRevoked = errors.New("session revoked")

// Provider is safe for concurrent use. Listener callbacks run without the
// provider lock held and may call back into the provider.
type Provider struct {
	log     *slog.Logger
	store   Store
	backend Backend
	bus     Subscriber
	origin  string
	// identityKeys are the durable keys whose change means "re-read the store".
	identityKeys map[string]bool

	mu         sync.Mutex
	snap       Snapshot
	generation uint64 // bumped by login and logout; stale validations are dropped
	listeners  map[uint64]func(Snapshot)
	nextID     uint64
	started    bool

	ready     chan struct{}
	readyOnce sync.Once
	unsubs    []func()
	wg        sync.WaitGroup
}

// New returns a provider in the Initializing state. bus may be nil.
// origin is this client's id; storage events carrying it are ignored.
// identityKeys lists the durable keys that hold identity.
func New(logger *slog.Logger, store Store, backend Backend, bus Subscriber, origin string, identityKeys ...string) *Provider {
	keys := make(map[string]bool, len(identityKeys))
	for _, k := range identityKeys {
		keys[k] = true
	}
	return &Provider{
		log:          logutil.OrDiscard(logger),
		store:        store,
		backend:      backend,
		bus:          bus,
		origin:       origin,
		identityKeys: keys,
		listeners:    make(map[uint64]func(Snapshot)),
		ready:        make(chan struct{}),
	}
}

// Snapshot returns the current state.
func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Subscribe registers fn to receive every new snapshot. It returns an unsubscribe func.
func (p *Provider) Subscribe(fn func(Snapshot)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Start mounts the provider. It never blocks on the network.
//
// With a recoverable identity in client storage the provider becomes ready
// and authenticated immediately (optimistic) and then validates in the
// background. Without one it stays Initializing until the backend answers.
// Cancelling ctx stops the background validation.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	gen := p.generation
	p.mu.Unlock()

	p.listen()

	u := p.store.GetUser(ctx)
	if u != nil {
		p.set(gen, func(s *Snapshot) {
			*s = authenticated(u, PhaseOptimistic)
		})
		p.log.Debug("restored session optimistically", "user_id", u.ID)
	}

	// The optimistic snapshot above is published before validation begins.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.validate(ctx, gen, u)
	}()
}

// WaitReady blocks until the provider has left Initializing or ctx is done.
func (p *Provider) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close detaches from the bus and waits for background validation to finish.
func (p *Provider) Close() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	p.wg.Wait()
}

// Login persists u and moves to the authenticated state. The durable admin
// flag is written to match u's role. It reports false when the store refused
// the session (no bearer token).
func (p *Provider) Login(ctx context.Context, u *models.UserSession) bool {
	if !p.store.SaveUser(ctx, u) {
		return false
	}
	p.store.SetAdminFlag(ctx, u.IsAdmin())

	stored := p.store.GetUser(ctx)
	if stored == nil {
		// storage is unusable; keep the session in memory only
		cp := *u
		stored = &cp
	}
	if u.Role.IsElevated() && !stored.Role.IsElevated() {
		stored.Role = u.Role
	}

	p.bump(func(s *Snapshot) {
		*s = authenticated(stored, PhaseVerified)
	})
	p.log.Info("signed in", "user_id", stored.ID, "admin", stored.IsAdmin())
	return true
}

// Logout signs out on the backend, ignoring any failure, clears every
// storage tier and moves to the anonymous state.
func (p *Provider) Logout(ctx context.Context) {
	if err := p.backend.SignOut(ctx); err != nil {
		p.log.Debug("backend sign-out failed, clearing local state anyway", "err", err)
	}
	p.store.ClearUser(ctx)
	p.bump(func(s *Snapshot) {
		*s = anonymous()
	})
	p.log.Info("signed out")
}

// Revoke is Logout for a session the backend no longer honours. The phase
// becomes PhaseRevoked and reason is recorded as LastError.
func (p *Provider) Revoke(ctx context.Context, reason error) {
	if reason == nil {
		reason = ErrRevoked
	}
	p.Logout(ctx)
	p.bump(func(s *Snapshot) {
		s.Phase = PhaseRevoked
		s.LastError = reason
	})
	p.log.Warn("session revoked", "reason", reason)
}

// VisibilityRegained re-derives the user from client storage. It is what
// the visibility.regained event triggers; hosts without a bus call it directly.
func (p *Provider) VisibilityRegained() {
	p.resync("visibility regained")
}

func (p *Provider) listen() {
	if p.bus == nil {
		return
	}
	unsubs := []func(){
		p.bus.Subscribe(events.TopicStorageChanged, func(e events.Event) {
			if e.Origin == p.origin || !p.identityKeys[e.Key] {
				return
			}
			p.resync("storage changed in another client")
		}),
		p.bus.Subscribe(events.TopicAuthChanged, func(e events.Event) {
			if e.Origin != p.origin {
				return
			}
			p.resync("auth changed")
		}),
		p.bus.Subscribe(events.TopicVisibilityRegained, func(e events.Event) {
			if e.Origin != "" && e.Origin != p.origin {
				return
			}
			p.resync("visibility regained")
		}),
	}
	p.mu.Lock()
	p.unsubs = append(p.unsubs, unsubs...)
	p.mu.Unlock()
}

// resync re-reads the store. It never calls the backend.
func (p *Provider) resync(reason string) {
	u := p.store.GetUser(context.Background())

	p.mu.Lock()
	if p.snap.State == Initializing && u == nil {
		p.mu.Unlock()
		return
	}
	gen := p.generation
	p.mu.Unlock()

	p.set(gen, func(s *Snapshot) {
		if u == nil {
			*s = anonymous()
			return
		}
		phase := PhaseOptimistic
		if s.Phase == PhaseVerified && s.User != nil && s.User.ID == u.ID {
			phase = PhaseVerified
		}
		*s = authenticated(u, phase)
	})
	p.log.Debug("re-derived session from storage", "reason", reason, "authenticated", u != nil)
}

// validate asks the backend who the current credential belongs to.
func (p *Provider) validate(ctx context.Context, gen uint64, optimistic *models.UserSession) {
	acct, err := p.backend.CurrentUser(ctx)
	if err != nil {
		if optimistic != nil {
			p.log.Warn("background session validation failed, keeping optimistic session", "err", err)
			p.set(gen, func(s *Snapshot) { s.LastError = err })
			return
		}
		p.log.Debug("no session recovered from backend", "err", err)
		p.set(gen, func(s *Snapshot) {
			*s = anonymous()
			s.LastError = err
		})
		return
	}

	if !p.current(gen) {
		p.log.Debug("session changed during validation, discarding result")
		return
	}

	token := ""
	if optimistic != nil {
		token = optimistic.BearerToken
	}
	u := acct.Session(token)
	if optimistic != nil {
		u.SessionID = optimistic.SessionID
		if optimistic.Role.IsElevated() && !u.Role.IsElevated() {
			// the backend's usertype is authoritative; drop the stale flag
			p.store.SetAdminFlag(ctx, false)
		}
	}
	p.store.SaveRecovered(ctx, u)
	if u.Role.IsElevated() {
		p.store.SetAdminFlag(ctx, true)
	}

	p.set(gen, func(s *Snapshot) {
		*s = authenticated(u, PhaseVerified)
	})
	p.log.Debug("session validated", "user_id", u.ID)
}

func (p *Provider) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.generation
}

// set applies fn when no login or logout happened since gen was read, then
// notifies listeners. Leaving Initializing marks the provider ready.
func (p *Provider) set(gen uint64, fn func(*Snapshot)) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.log.Debug("dropping stale session update")
		return
	}
	p.applyLocked(fn)
}

// bump applies fn unconditionally and invalidates in-flight validations.
func (p *Provider) bump(fn func(*Snapshot)) {
	p.mu.Lock()
	p.generation++
	p.applyLocked(fn)
}

// applyLocked must be called with p.mu held; it releases it.
func (p *Provider) applyLocked(fn func(*Snapshot)) {
	fn(&p.snap)
	snap := p.snap
	listeners := make([]func(Snapshot), 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	if snap.Ready {
		p.readyOnce.Do(func() { close(p.ready) })
	}
	for _, l := range listeners {
		l(snap)
	}
}

func authenticated(u *models.UserSession, phase Phase) Snapshot {
	return Snapshot{
		User:            u,
		State:           ReadyAuthenticated,
		Phase:           phase,
		Ready:           true,
		IsAuthenticated: true,
		IsAdmin:         u.IsAdmin(),
	}
}

func anonymous() Snapshot {
	return Snapshot{State: ReadyAnonymous, Ready: true}
}
