package access

import (
	"context"
	"sync"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

// Phase is where an admission stands.
type Phase string

const (
	PhaseLoading    Phase = "loading"    // waiting for the auth provider or the backend
	PhaseOpen       Phase = "open"       // the route requires no role
	PhaseOptimistic Phase = "optimistic" // shown on a client side signal
	PhaseVerified   Phase = "verified"
	PhaseDenied     Phase = "denied"
	PhaseRevoked    Phase = "revoked"
)

// Allowed reports whether the route may be rendered in this phase.
func (p Phase) Allowed() bool {
	return p == PhaseOpen || p == PhaseOptimistic || p == PhaseVerified
}

// Admission is one attempt to enter a route.
type Admission struct {
	Route    string
	Required models.Role

	mu    sync.Mutex
	phase Phase
	err   error
	done  chan struct{}
	once  sync.Once
}

func newAdmission(route string, required models.Role) *Admission {
	return &Admission{
		Route:    route,
		Required: required,
		phase:    PhaseLoading,
		done:     make(chan struct{}),
	}
}

// Phase returns the current phase.
func (a *Admission) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Err is the reason for a denial or revocation, or the verification error
// behind an optimistic grant that could not be confirmed.
func (a *Admission) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Done is closed once the decision is final.
func (a *Admission) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the decision is final and returns the settled phase.
func (a *Admission) Wait(ctx context.Context) (Phase, error) {
	select {
	case <-a.done:
		return a.Phase(), nil
	case <-ctx.Done():
		return a.Phase(), ctx.Err()
	}
}

func (a *Admission) set(p Phase, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phase = p
	a.err = err
}

func (a *Admission) settle(p Phase, err error) {
	a.set(p, err)
	a.once.Do(func() { close(a.done) })
}
