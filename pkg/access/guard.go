// Package access gates client routes behind a minimum role.
//
// A route is admitted in one of two ways. When the client already holds a
// signal that the user has the role (the signed-in session, the durable
// admin flag or the legacy user blob) it is admitted optimistically and
// checked against the backend in the background; a disagreeing backend
// revokes the grant. Without any such signal the backend is asked first and
// nothing is admitted until it answers.
package access

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/auth"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

// ErrInsufficientRole is the reason recorded when the backend reports a
// lower role than the route requires.
var ErrInsufficientRole = errors.New("insufficient role")

// Session is the part of the auth provider the guard uses.
type Session interface {
	Snapshot() auth.Snapshot
	WaitReady(ctx context.Context) error
	Revoke(ctx context.Context, reason error)
}

// Flags exposes the durable admin flags.
type Flags interface {
	AdminFlag(ctx context.Context) bool
	LegacyAdminFlag(ctx context.Context) bool
	SetAdminFlag(ctx context.Context, admin bool)
}

// Verifier asks the backend who is signed in.
type Verifier interface {
	CurrentUser(ctx context.Context) (*models.Account, error)
}

// Notification is a short message for the user, shown as a toast.
type Notification struct {
	Title   string
	Message string
}

// Notifier displays notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a func to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Guard decides whether routes may be shown.
type Guard struct {
	log         *slog.Logger
	session     Session
	flags       Flags
	verifier    Verifier
	nav         api.Navigator
	notifier    Notifier
	signInRoute string

	mu       sync.RWMutex
	policies map[string]models.Role // route prefix -> minimum role
}

// New returns a Guard with no policies. nav and notifier may be nil.
func New(logger *slog.Logger, session Session, flags Flags, verifier Verifier, nav api.Navigator, notifier Notifier) *Guard {
	return &Guard{
		log:         logutil.OrDiscard(logger),
		session:     session,
		flags:       flags,
		verifier:    verifier,
		nav:         nav,
		notifier:    notifier,
		signInRoute: api.SignInRoute,
		policies:    make(map[string]models.Role),
	}
}

// Enter starts admission to route. The returned Admission already reflects
// an optimistic grant when the provider is ready and the client holds a
// role signal; otherwise it is loading until the decision is made in the
// background. Cancelling ctx abandons a pending decision.
func (g *Guard) Enter(ctx context.Context, route string) *Admission {
	required, _ := g.FindMatchingPolicy(route)
	a := newAdmission(route, required)

	if !required.AtLeast(models.RoleUser) {
		a.settle(PhaseOpen, nil)
		return a
	}

	if snap := g.session.Snapshot(); snap.Ready && g.clientSignal(ctx, snap, required) {
		a.set(PhaseOptimistic, nil)
		g.log.Debug("admitting optimistically", "route", route, "required", required)
	}

	go g.decide(ctx, a)
	return a
}

func (g *Guard) decide(ctx context.Context, a *Admission) {
	// the verify request and the guard share one sign-in redirect
	ctx = api.WithRedirectGuard(ctx)
	if err := g.session.WaitReady(ctx); err != nil {
		a.settle(PhaseDenied, err)
		return
	}

	optimistic := a.Phase() == PhaseOptimistic
	if !optimistic && g.clientSignal(ctx, g.session.Snapshot(), a.Required) {
		a.set(PhaseOptimistic, nil)
		optimistic = true
	}

	acct, err := g.verifier.CurrentUser(ctx)
	switch {
	case err == nil && acct.Role().AtLeast(a.Required):
		g.log.Debug("route access verified", "route", a.Route, "role", acct.Role())
		a.settle(PhaseVerified, nil)

	case optimistic && err != nil && !api.IsUnauthorized(err):
		// the backend could not answer; it did not disagree
		g.log.Warn("could not verify route access, keeping optimistic grant", "route", a.Route, "err", err)
		a.settle(PhaseOptimistic, err)

	case optimistic:
		g.revoke(ctx, a, reason(err))

	default:
		g.deny(ctx, a, reason(err))
	}
}

func reason(err error) error {
	if err != nil {
		return err
	}
	return ErrInsufficientRole
}

// clientSignal reports whether anything held client side says the user has required.
func (g *Guard) clientSignal(ctx context.Context, snap auth.Snapshot, required models.Role) bool {
	if snap.User != nil && snap.User.Role.AtLeast(required) {
		return true
	}
	if snap.IsAuthenticated && models.RoleUser.AtLeast(required) {
		return true
	}
	if !models.RoleAdmin.AtLeast(required) {
		return false
	}
	if snap.IsAdmin {
		return true
	}
	if g.flags == nil {
		return false
	}
	return g.flags.AdminFlag(ctx) || g.flags.LegacyAdminFlag(ctx)
}

func (g *Guard) revoke(ctx context.Context, a *Admission, why error) {
	g.log.Warn("revoking optimistic route access", "route", a.Route, "reason", why)
	if g.flags != nil {
		g.flags.SetAdminFlag(ctx, false)
	}
	g.session.Revoke(ctx, why)
	g.redirect(ctx, Notification{
		Title:   "Access revoked",
		Message: "Your access to this page could not be confirmed. Please sign in again.",
	})
	a.settle(PhaseRevoked, why)
}

func (g *Guard) deny(ctx context.Context, a *Admission, why error) {
	g.log.Info("route access denied", "route", a.Route, "required", a.Required, "reason", why)
	msg := "You do not have permission to view this page."
	if api.IsNetwork(why) {
		msg = api.Message(why)
	}
	g.redirect(ctx, Notification{Title: "Access denied", Message: msg})
	a.settle(PhaseDenied, why)
}

func (g *Guard) redirect(ctx context.Context, n Notification) {
	if g.nav != nil && api.ClaimRedirect(ctx) {
		g.nav.Navigate(g.signInRoute)
	}
	if g.notifier != nil {
		g.notifier.Notify(n)
	}
}
