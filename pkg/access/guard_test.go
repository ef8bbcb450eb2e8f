package access

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/auth"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu      sync.Mutex
	snap    auth.Snapshot
	ready   chan struct{}
	revoked []error
}

func readySession(snap auth.Snapshot) *fakeSession {
	snap.Ready = true
	s := &fakeSession{snap: snap, ready: make(chan struct{})}
	close(s.ready)
	return s
}

func (s *fakeSession) Snapshot() auth.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *fakeSession) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSession) Revoke(_ context.Context, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, reason)
	s.snap = auth.Snapshot{Ready: true, State: auth.ReadyAnonymous, Phase: auth.PhaseRevoked}
}

func (s *fakeSession) becomeReady(snap auth.Snapshot) {
	s.mu.Lock()
	snap.Ready = true
	s.snap = snap
	s.mu.Unlock()
	close(s.ready)
}

type fakeFlags struct {
	mu     sync.Mutex
	admin  bool
	legacy bool
}

func (f *fakeFlags) AdminFlag(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admin
}

func (f *fakeFlags) LegacyAdminFlag(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.legacy
}

func (f *fakeFlags) SetAdminFlag(_ context.Context, admin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admin = admin
}

type fakeVerifier struct {
	release chan struct{}
	acct    *models.Account
	err     error

	mu    sync.Mutex
	calls int
}

func (v *fakeVerifier) CurrentUser(ctx context.Context) (*models.Account, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	if v.release != nil {
		select {
		case <-v.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return v.acct, v.err
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type recorder struct {
	mu     sync.Mutex
	routes []string
	notes  []Notification
}

func (r *recorder) Navigate(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes), len(r.notes)
}

func adminSnapshot() auth.Snapshot {
	return auth.Snapshot{
		State:           auth.ReadyAuthenticated,
		IsAuthenticated: true,
		IsAdmin:         true,
		User:            &models.UserSession{ID: "1", Role: models.RoleAdmin, BearerToken: "tok"},
	}
}

func newGuard(sess Session, flags *fakeFlags, v Verifier, rec *recorder) *Guard {
	g := New(nil, sess, flags, v, rec, rec)
	g.LoadDefaultPolicies()
	return g
}

func settle(t *testing.T, a *Admission) Phase {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	phase, err := a.Wait(ctx)
	require.NoError(t, err)
	return phase
}

func TestEnter_OpenRoute(t *testing.T) {
	v := &fakeVerifier{}
	g := newGuard(readySession(auth.Snapshot{State: auth.ReadyAnonymous}), &fakeFlags{}, v, &recorder{})

	a := g.Enter(context.Background(), "/courses")

	assert.Equal(t, PhaseOpen, a.Phase())
	assert.True(t, a.Phase().Allowed())
	assert.Equal(t, PhaseOpen, settle(t, a))
	assert.Zero(t, v.callCount())
}

func TestEnter_OptimisticThenVerified(t *testing.T) {
	v := &fakeVerifier{release: make(chan struct{}), acct: &models.Account{ID: "1", UserType: "admin"}}
	rec := &recorder{}
	g := newGuard(readySession(adminSnapshot()), &fakeFlags{}, v, rec)

	a := g.Enter(context.Background(), "/admin/enrollments")
	assert.Equal(t, PhaseOptimistic, a.Phase(), "granted before the backend answers")
	assert.True(t, a.Phase().Allowed())

	close(v.release)
	assert.Equal(t, PhaseVerified, settle(t, a))
	nav, notes := rec.counts()
	assert.Zero(t, nav)
	assert.Zero(t, notes)
}

func TestEnter_LegacyFlagRevokedWhenBackendDisagrees(t *testing.T) {
	sess := readySession(auth.Snapshot{State: auth.ReadyAuthenticated, IsAuthenticated: true, User: &models.UserSession{ID: "2"}})
	flags := &fakeFlags{legacy: true, admin: true}
	v := &fakeVerifier{acct: &models.Account{ID: "2", UserType: "student"}}
	rec := &recorder{}
	g := newGuard(sess, flags, v, rec)

	a := g.Enter(context.Background(), "/admin")

	assert.Equal(t, PhaseRevoked, settle(t, a))
	assert.False(t, a.Phase().Allowed())
	assert.ErrorIs(t, a.Err(), ErrInsufficientRole)
	assert.False(t, flags.AdminFlag(context.Background()))
	require.Len(t, sess.revoked, 1)
	assert.Equal(t, []string{api.SignInRoute}, rec.routes)
	require.Len(t, rec.notes, 1)
	assert.Equal(t, "Access revoked", rec.notes[0].Title)
}

func TestEnter_OptimisticGrantSurvivesNetworkFailure(t *testing.T) {
	netErr := &api.Error{Kind: api.KindNetwork, Message: api.MsgNetwork}
	sess := readySession(adminSnapshot())
	rec := &recorder{}
	g := newGuard(sess, &fakeFlags{}, &fakeVerifier{err: netErr}, rec)

	a := g.Enter(context.Background(), "/admin")

	assert.Equal(t, PhaseOptimistic, settle(t, a))
	assert.True(t, a.Phase().Allowed())
	assert.ErrorIs(t, a.Err(), netErr)
	assert.Empty(t, sess.revoked)
	nav, _ := rec.counts()
	assert.Zero(t, nav)
}

func TestEnter_OptimisticRevokedOnUnauthorized(t *testing.T) {
	unauthorized := &api.Error{Status: http.StatusUnauthorized, Kind: api.KindUnauthorized, Message: api.MsgUnauthorized}
	sess := readySession(adminSnapshot())
	g := newGuard(sess, &fakeFlags{}, &fakeVerifier{err: unauthorized}, &recorder{})

	a := g.Enter(context.Background(), "/admin")

	assert.Equal(t, PhaseRevoked, settle(t, a))
	require.Len(t, sess.revoked, 1)
	assert.ErrorIs(t, sess.revoked[0], unauthorized)
}

type staticTokens string

func (s staticTokens) Token() string                      { return string(s) }
func (s staticTokens) LegacyToken(context.Context) string { return "" }
func (s staticTokens) ClearLegacyToken(context.Context)   {}

func TestEnter_ExpiredSessionRedirectsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := &recorder{}
	client, err := api.New(nil, srv.URL, api.WithTokens(staticTokens("tok")), api.WithNavigator(rec))
	require.NoError(t, err)
	sess := readySession(adminSnapshot())
	g := newGuard(sess, &fakeFlags{}, client, rec)

	a := g.Enter(context.Background(), "/admin")

	assert.Equal(t, PhaseRevoked, settle(t, a))
	require.Len(t, sess.revoked, 1)
	nav, notes := rec.counts()
	assert.Equal(t, 1, nav, "the transport already sent the user to sign-in")
	assert.Equal(t, 1, notes)
}

func TestEnter_BlockingCheck(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		sess := readySession(auth.Snapshot{State: auth.ReadyAnonymous})
		v := &fakeVerifier{release: make(chan struct{}), err: &api.Error{Status: http.StatusUnauthorized, Kind: api.KindUnauthorized}}
		rec := &recorder{}
		g := newGuard(sess, &fakeFlags{}, v, rec)

		a := g.Enter(context.Background(), "/admin")
		assert.Equal(t, PhaseLoading, a.Phase(), "nothing is shown before the backend answers")
		assert.False(t, a.Phase().Allowed())

		close(v.release)
		assert.Equal(t, PhaseDenied, settle(t, a))
		assert.Empty(t, sess.revoked, "a denial does not sign anybody out")
		assert.Equal(t, []string{api.SignInRoute}, rec.routes)
		require.Len(t, rec.notes, 1)
		assert.Equal(t, "Access denied", rec.notes[0].Title)
	})

	t.Run("verified", func(t *testing.T) {
		sess := readySession(auth.Snapshot{State: auth.ReadyAnonymous})
		g := newGuard(sess, &fakeFlags{}, &fakeVerifier{acct: &models.Account{ID: "3", UserType: "administrator"}}, &recorder{})

		assert.Equal(t, PhaseVerified, settle(t, g.Enter(context.Background(), "/admin")))
	})

	t.Run("backend unreachable", func(t *testing.T) {
		sess := readySession(auth.Snapshot{State: auth.ReadyAnonymous})
		rec := &recorder{}
		g := newGuard(sess, &fakeFlags{}, &fakeVerifier{err: &api.Error{Kind: api.KindNetwork, Message: api.MsgNetwork}}, rec)

		a := g.Enter(context.Background(), "/admin")
		assert.Equal(t, PhaseDenied, settle(t, a))
		require.Len(t, rec.notes, 1)
		assert.Equal(t, api.MsgNetwork, rec.notes[0].Message)
	})
}

func TestEnter_WaitsForProvider(t *testing.T) {
	sess := &fakeSession{ready: make(chan struct{})}
	v := &fakeVerifier{release: make(chan struct{}), acct: &models.Account{ID: "1", UserType: "admin"}}
	g := newGuard(sess, &fakeFlags{}, v, &recorder{})

	a := g.Enter(context.Background(), "/admin")
	assert.Equal(t, PhaseLoading, a.Phase())

	sess.becomeReady(adminSnapshot())
	require.Eventually(t, func() bool { return a.Phase() == PhaseOptimistic }, time.Second, 5*time.Millisecond)

	close(v.release)
	assert.Equal(t, PhaseVerified, settle(t, a))
}

func TestEnter_CancelledWhileLoading(t *testing.T) {
	sess := &fakeSession{ready: make(chan struct{})}
	v := &fakeVerifier{}
	rec := &recorder{}
	g := newGuard(sess, &fakeFlags{}, v, rec)

	ctx, cancel := context.WithCancel(context.Background())
	a := g.Enter(ctx, "/admin")
	cancel()

	assert.Equal(t, PhaseDenied, settle(t, a))
	assert.True(t, errors.Is(a.Err(), context.Canceled))
	assert.Zero(t, v.callCount())
	nav, _ := rec.counts()
	assert.Zero(t, nav)
}

func TestEnter_SignedInUserRoute(t *testing.T) {
	sess := readySession(auth.Snapshot{State: auth.ReadyAuthenticated, IsAuthenticated: true, User: &models.UserSession{ID: "5"}})
	v := &fakeVerifier{acct: &models.Account{ID: "5", UserType: "student"}}
	g := newGuard(sess, &fakeFlags{}, v, &recorder{})

	a := g.Enter(context.Background(), "/booking")
	assert.Equal(t, PhaseVerified, settle(t, a))
}
