package payment

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
)

// LoadFunc loads the vendor integration.
type LoadFunc func(ctx context.Context) (Vendor, error)

// Loader loads the vendor integration at most once. Concurrent callers share
// one load in flight; a failed load is forgotten so the next caller retries.
type Loader struct {
	log  *slog.Logger
	load LoadFunc

	mu       sync.Mutex
	vendor   Vendor
	inflight *loadCall
}

type loadCall struct {
	done   chan struct{}
	vendor Vendor
	err    error
}

// NewLoader returns a Loader calling load.
func NewLoader(logger *slog.Logger, load LoadFunc) *Loader {
	return &Loader{log: logutil.OrDiscard(logger), load: load}
}

// Loaded returns a Loader that is already holding v.
func Loaded(v Vendor) *Loader {
	return &Loader{log: logutil.OrDiscard(nil), vendor: v}
}

// Vendor returns the loaded vendor, loading it first when needed.
func (l *Loader) Vendor(ctx context.Context) (Vendor, error) {
	l.mu.Lock()
	if l.vendor != nil {
		v := l.vendor
		l.mu.Unlock()
		return v, nil
	}
	call := l.inflight
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		l.inflight = call
		go l.run(call)
	}
	l.mu.Unlock()

	select {
	case <-call.done:
		return call.vendor, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run performs one load, detached from every caller's context.
func (l *Loader) run(call *loadCall) {
	v, err := l.load(context.Background())

	l.mu.Lock()
	if err == nil {
		l.vendor = v
	}
	l.inflight = nil
	l.mu.Unlock()

	if err != nil {
		l.log.Warn("payment vendor failed to load", "err", err)
	} else {
		l.log.Debug("payment vendor loaded")
	}
	call.vendor, call.err = v, err
	close(call.done)
}
