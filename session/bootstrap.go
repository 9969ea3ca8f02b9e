package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/services"
)

// State is the lifecycle position of a Bootstrap.
type State int

const (
	StateUninitialized State = iota
	StateEvaluating
	StateReconciling
	StateCleared
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEvaluating:
		return "evaluating"
	case StateReconciling:
		return "reconciling"
	case StateCleared:
		return "cleared"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Status is a snapshot of a Bootstrap. Cleared means nobody is signed in;
// Settled with an unresolved Outcome means reconciliation failed.
type Status struct {
	State   State
	Subject string
	Outcome domain.Outcome
}

// Bootstrap drives reconciliation for one session. It re-evaluates only when
// the (loaded, subject) pair changes and is the sole writer of the ambient
// user slot.
type Bootstrap struct {
	reconciler services.Reconciler
	ambient    *Ambient

	mu       sync.Mutex
	state    State
	observed bool
	loaded   bool
	subject  string
	outcome  domain.Outcome
	gen      uint64
	cancel   context.CancelFunc
	closed   bool
	inflight sync.WaitGroup
}

// NewBootstrap creates a Bootstrap that publishes into ambient.
func NewBootstrap(reconciler services.Reconciler, ambient *Ambient) *Bootstrap {
	return &Bootstrap{
		reconciler: reconciler,
		ambient:    ambient,
		cancel:     func() {},
	}
}

// Changed reports whether observing s would trigger a re-evaluation.
func (b *Bootstrap) Changed(s domain.AuthState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.changed(s)
}

func (b *Bootstrap) changed(s domain.AuthState) bool {
	return !b.observed || b.loaded != s.Loaded || b.subject != s.SubjectID
}

// Observe feeds an auth state transition and returns the resulting state.
// Reconciliation runs on its own goroutine; a newer transition cancels it
// and its result is discarded.
func (b *Bootstrap) Observe(s domain.AuthState) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || !b.changed(s) {
		return b.state
	}
	b.observed = true
	b.loaded = s.Loaded
	b.subject = s.SubjectID

	if !s.Loaded {
		return b.state
	}

	b.state = StateEvaluating
	b.cancel()
	b.gen++

	if s.SubjectID == "" {
		b.state = StateCleared
		b.outcome = domain.Outcome{}
		b.cancel = func() {}
		b.ambient.publish(nil)
		log.Debug().Msg("Session cleared")
		return b.state
	}

	var claims domain.Claims
	if s.Claims != nil {
		claims = *s.Claims
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.state = StateReconciling
	b.inflight.Add(1)
	go b.run(ctx, b.gen, s.SubjectID, claims, s.Claims != nil)

	return b.state
}

func (b *Bootstrap) run(ctx context.Context, gen uint64, subject string, claims domain.Claims, hasClaims bool) {
	defer b.inflight.Done()

	var outcome domain.Outcome
	switch {
	case !hasClaims:
		outcome = domain.Unresolved(domain.ErrClaimsMissing)
	case claims.SubjectID != subject:
		outcome = domain.Unresolved(domain.ErrSubjectMismatch)
	default:
		outcome = b.reconciler.Reconcile(ctx, claims)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || gen != b.gen {
		log.Debug().Str("subject", subject).Msg("Discarding superseded reconciliation result")
		return
	}

	b.state = StateSettled
	b.outcome = outcome
	b.ambient.publish(outcome.User)
}

// Status returns the current state and last outcome.
func (b *Bootstrap) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		State:   b.state,
		Subject: b.subject,
		Outcome: b.outcome,
	}
}

// Wait blocks until no reconciliation is in flight.
func (b *Bootstrap) Wait() {
	b.inflight.Wait()
}

// Close cancels in-flight work and clears the ambient user. Further
// observations are ignored.
func (b *Bootstrap) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.gen++
	b.cancel()
	b.state = StateCleared
	b.outcome = domain.Outcome{}
	b.mu.Unlock()

	b.ambient.close()
}
