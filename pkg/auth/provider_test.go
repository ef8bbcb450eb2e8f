package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/events"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const identityKey = "userSession"

type fakeStore struct {
	mu        sync.Mutex
	user      *models.UserSession
	admin     bool
	recovered int
	cleared   int
}

func (s *fakeStore) GetUser(context.Context) *models.UserSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	if s.admin {
		u.Role = models.RoleAdmin
	}
	return &u
}

func (s *fakeStore) SaveUser(_ context.Context, u *models.UserSession) bool {
	if u == nil || u.BearerToken == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	cp.SessionID = "sid-1"
	s.user = &cp
	return true
}

func (s *fakeStore) SaveRecovered(_ context.Context, u *models.UserSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.user = &cp
	s.recovered++
}

func (s *fakeStore) ClearUser(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.admin = false
	s.cleared++
}

func (s *fakeStore) SetAdminFlag(_ context.Context, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = admin
}

func (s *fakeStore) adminFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// fakeBackend answers CurrentUser once release is closed (or immediately when it is nil).
type fakeBackend struct {
	release    chan struct{}
	acct       *models.Account
	err        error
	signOutErr error

	mu       sync.Mutex
	calls    int
	signOuts int
}

func (b *fakeBackend) CurrentUser(ctx context.Context) (*models.Account, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.acct, b.err
}

func (b *fakeBackend) SignOut(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signOuts++
	return b.signOutErr
}

func (b *fakeBackend) currentUserCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func storedUser() *models.UserSession {
	return &models.UserSession{ID: "42", Email: "asha@example.com", DisplayName: "Asha R", BearerToken: "tok", SessionID: "sid-0"}
}

func waitFor(t *testing.T, p *Provider, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = p.Snapshot()
		return cond(snap)
	}, time.Second, 5*time.Millisecond)
	return snap
}

func TestStart_OptimisticBeforeValidation(t *testing.T) {
	store := &fakeStore{user: storedUser()}
	backend := &fakeBackend{
		release: make(chan struct{}),
		acct:    &models.Account{ID: "42", Email: "asha@example.com", FirstName: "Asha", LastName: "Rao", UserType: "student"},
	}
	p := New(nil, store, backend, nil, "tab-a", identityKey)
	t.Cleanup(p.Close)

	var mu sync.Mutex
	var phases []Phase
	p.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, s.Phase)
	})

	p.Start(context.Background())

	snap := p.Snapshot()
	assert.True(t, snap.Ready)
	assert.True(t, snap.IsAuthenticated)
	assert.Equal(t, ReadyAuthenticated, snap.State)
	assert.Equal(t, PhaseOptimistic, snap.Phase)
	require.NoError(t, p.WaitReady(context.Background()))

	close(backend.release)
	snap = waitFor(t, p, func(s Snapshot) bool { return s.Phase == PhaseVerified })
	assert.Equal(t, "Asha Rao", snap.User.DisplayName)
	assert.Equal(t, "tok", snap.User.BearerToken)
	assert.Equal(t, "sid-0", snap.User.SessionID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseOptimistic, PhaseVerified}, phases)
}

func TestStart_BackgroundFailureKeepsOptimisticSession(t *testing.T) {
	store := &fakeStore{user: storedUser()}
	backend := &fakeBackend{err: errors.New("connection refused")}
	p := New(nil, store, backend, nil, "tab-a", identityKey)
	t.Cleanup(p.Close)

	p.Start(context.Background())

	snap := waitFor(t, p, func(s Snapshot) bool { return s.LastError != nil })
	assert.True(t, snap.IsAuthenticated)
	assert.Equal(t, PhaseOptimistic, snap.Phase)
	assert.Zero(t, store.cleared)
}

func TestStart_NoLocalIdentity(t *testing.T) {
	t.Run("backend rejects", func(t *testing.T) {
		backend := &fakeBackend{release: make(chan struct{}), err: errors.New("unauthorized")}
		p := New(nil, &fakeStore{}, backend, nil, "tab-a", identityKey)
		t.Cleanup(p.Close)

		p.Start(context.Background())
		snap := p.Snapshot()
		assert.False(t, snap.Ready)
		assert.Equal(t, Initializing, snap.State)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, p.WaitReady(ctx), context.DeadlineExceeded)

		close(backend.release)
		require.NoError(t, p.WaitReady(context.Background()))
		snap = p.Snapshot()
		assert.Equal(t, ReadyAnonymous, snap.State)
		assert.False(t, snap.IsAuthenticated)
		assert.Error(t, snap.LastError)
	})

	t.Run("backend recovers the session", func(t *testing.T) {
		store := &fakeStore{}
		backend := &fakeBackend{acct: &models.Account{ID: "7", Email: "admin@example.com", UserType: "admin"}}
		p := New(nil, store, backend, nil, "tab-a", identityKey)
		t.Cleanup(p.Close)

		p.Start(context.Background())
		require.NoError(t, p.WaitReady(context.Background()))

		snap := p.Snapshot()
		assert.Equal(t, ReadyAuthenticated, snap.State)
		assert.Equal(t, PhaseVerified, snap.Phase)
		assert.True(t, snap.IsAdmin)
		assert.Equal(t, 1, store.recovered)
		assert.True(t, store.adminFlag())
	})
}

func TestStart_IsIdempotent(t *testing.T) {
	backend := &fakeBackend{err: errors.New("nope")}
	p := New(nil, &fakeStore{}, backend, nil, "tab-a", identityKey)
	p.Start(context.Background())
	p.Start(context.Background())
	p.Close()

	assert.Equal(t, 1, backend.currentUserCalls())
}

func TestLoginLogout(t *testing.T) {
	store := &fakeStore{}
	backend := &fakeBackend{err: errors.New("anonymous"), signOutErr: errors.New("offline")}
	p := New(nil, store, backend, nil, "tab-a", identityKey)
	t.Cleanup(p.Close)
	p.Start(context.Background())
	require.NoError(t, p.WaitReady(context.Background()))

	assert.False(t, p.Login(context.Background(), &models.UserSession{ID: "1"}), "no token")
	assert.False(t, p.Snapshot().IsAuthenticated)

	admin := &models.UserSession{ID: "1", Email: "a@example.com", BearerToken: "tok", Role: models.RoleAdmin}
	require.True(t, p.Login(context.Background(), admin))
	snap := p.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.True(t, snap.IsAdmin)
	assert.Equal(t, "sid-1", snap.User.SessionID)
	assert.True(t, store.adminFlag())

	p.Logout(context.Background())
	snap = p.Snapshot()
	assert.Equal(t, ReadyAnonymous, snap.State)
	assert.Nil(t, snap.User)
	assert.Equal(t, 1, store.cleared)
	assert.Equal(t, 1, backend.signOuts)
}

func TestLogin_NonAdminClearsFlag(t *testing.T) {
	store := &fakeStore{admin: true}
	p := New(nil, store, &fakeBackend{err: errors.New("x")}, nil, "tab-a", identityKey)
	t.Cleanup(p.Close)

	require.True(t, p.Login(context.Background(), &models.UserSession{ID: "1", BearerToken: "tok", Role: models.RoleUser}))
	assert.False(t, store.adminFlag())
	assert.False(t, p.Snapshot().IsAdmin)
}

func TestRevoke(t *testing.T) {
	store := &fakeStore{user: storedUser()}
	p := New(nil, store, &fakeBackend{err: errors.New("x")}, nil, "tab-a", identityKey)
	t.Cleanup(p.Close)

	p.Revoke(context.Background(), nil)

	snap := p.Snapshot()
	assert.Equal(t, PhaseRevoked, snap.Phase)
	assert.ErrorIs(t, snap.LastError, ErrRevoked)
	assert.False(t, snap.IsAuthenticated)
}

func TestStaleValidationIsDropped(t *testing.T) {
	store := &fakeStore{user: storedUser()}
	backend := &fakeBackend{release: make(chan struct{}), acct: &models.Account{ID: "42"}}
	p := New(nil, store, backend, nil, "tab-a", identityKey)

	p.Start(context.Background())
	p.Logout(context.Background())
	close(backend.release)
	p.Close()

	snap := p.Snapshot()
	assert.Equal(t, ReadyAnonymous, snap.State)
	assert.Nil(t, snap.User)
	assert.Nil(t, store.GetUser(context.Background()), "a stale result must not rewrite storage")
}

func TestBusEvents(t *testing.T) {
	bus := events.New(nil)
	store := &fakeStore{}
	p := New(nil, store, &fakeBackend{err: errors.New("anonymous")}, bus, "tab-a", identityKey)
	t.Cleanup(p.Close)
	p.Start(context.Background())
	require.NoError(t, p.WaitReady(context.Background()))

	// another client signed in against the shared durable store
	store.SaveRecovered(context.Background(), storedUser())

	bus.Publish(events.Event{Topic: events.TopicStorageChanged, Origin: "tab-a", Key: identityKey})
	assert.False(t, p.Snapshot().IsAuthenticated, "own writes are ignored")

	bus.Publish(events.Event{Topic: events.TopicStorageChanged, Origin: "tab-b", Key: "unrelated"})
	assert.False(t, p.Snapshot().IsAuthenticated, "unrelated keys are ignored")

	bus.Publish(events.Event{Topic: events.TopicStorageChanged, Origin: "tab-b", Key: identityKey})
	snap := p.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.Equal(t, PhaseOptimistic, snap.Phase)

	// signed out elsewhere while hidden
	store.ClearUser(context.Background())
	bus.Publish(events.Event{Topic: events.TopicVisibilityRegained})
	assert.False(t, p.Snapshot().IsAuthenticated)

	store.SaveRecovered(context.Background(), storedUser())
	bus.Publish(events.Event{Topic: events.TopicAuthChanged, Origin: "tab-b"})
	assert.False(t, p.Snapshot().IsAuthenticated, "auth.changed is same-client only")
	bus.Publish(events.Event{Topic: events.TopicAuthChanged, Origin: "tab-a"})
	assert.True(t, p.Snapshot().IsAuthenticated)

	p.Close()
	store.ClearUser(context.Background())
	bus.Publish(events.Event{Topic: events.TopicVisibilityRegained})
	assert.True(t, p.Snapshot().IsAuthenticated, "closed providers stop listening")
}

func TestListenersNeverCallBackend(t *testing.T) {
	store := &fakeStore{user: storedUser()}
	backend := &fakeBackend{err: errors.New("x")}
	p := New(nil, store, backend, nil, "tab-a", identityKey)
	p.Start(context.Background())
	p.Close()

	before := backend.currentUserCalls()
	p.VisibilityRegained()
	p.VisibilityRegained()
	assert.Equal(t, before, backend.currentUserCalls())
}
