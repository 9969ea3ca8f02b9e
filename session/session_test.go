package session

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/memstore"
	"go.pilab.hu/usersync/services"
)

// gatedReconciler blocks each call until released, so tests control the
// order in which concurrent reconciliations finish.
type gatedReconciler struct {
	mu      sync.Mutex
	calls   []domain.Claims
	gates   map[string]chan struct{}
	started chan string
}

func newGatedReconciler() *gatedReconciler {
	return &gatedReconciler{
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (g *gatedReconciler) gate(subject string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[subject]
	if !ok {
		ch = make(chan struct{})
		g.gates[subject] = ch
	}
	return ch
}

func (g *gatedReconciler) Reconcile(ctx context.Context, claims domain.Claims) domain.Outcome {
	g.mu.Lock()
	g.calls = append(g.calls, claims)
	g.mu.Unlock()

	gate := g.gate(claims.SubjectID)
	g.started <- claims.SubjectID
	select {
	case <-gate:
	case <-ctx.Done():
		return domain.Unresolved(ctx.Err())
	}
	return domain.Resolved(&domain.User{ID: "id-" + claims.SubjectID, Email: claims.PrimaryEmail()}, domain.SyncActionCreated)
}

func (g *gatedReconciler) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type failingReconciler struct{ err error }

func (f failingReconciler) Reconcile(context.Context, domain.Claims) domain.Outcome {
	return domain.Unresolved(f.err)
}

func signedIn(subject, email string) domain.AuthState {
	return domain.AuthState{
		Loaded:    true,
		SubjectID: subject,
		Claims:    &domain.Claims{SubjectID: subject, Email: email, GivenName: "Ann", FamilyName: "Lee"},
	}
}

func TestBootstrap_NotLoadedDoesNothing(t *testing.T) {
	rec := newGatedReconciler()
	b := NewBootstrap(rec, NewAmbient())

	state := b.Observe(domain.AuthState{Loaded: false, SubjectID: "u1"})

	assert.Equal(t, StateUninitialized, state)
	assert.Equal(t, 0, rec.callCount())
}

func TestBootstrap_SignedOutClears(t *testing.T) {
	ambient := NewAmbient()
	b := NewBootstrap(newGatedReconciler(), ambient)

	state := b.Observe(domain.AuthState{Loaded: true})

	assert.Equal(t, StateCleared, state)
	assert.Nil(t, ambient.ResolvedUser())
	assert.False(t, b.Status().Outcome.IsResolved())
}

func TestBootstrap_SignedInSettles(t *testing.T) {
	store := memstore.NewUserRepository()
	ambient := NewAmbient()
	b := NewBootstrap(services.NewReconcileService(store, nil), ambient)

	state := b.Observe(signedIn("u1", "a@x.com"))
	assert.Equal(t, StateReconciling, state)
	b.Wait()

	status := b.Status()
	assert.Equal(t, StateSettled, status.State)
	assert.Equal(t, "u1", status.Subject)
	require.True(t, status.Outcome.IsResolved())
	assert.Equal(t, domain.SyncActionCreated, status.Outcome.Action)

	user := ambient.ResolvedUser()
	require.NotNil(t, user)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, "Ann Lee", user.Name)
}

func TestBootstrap_SamePairDoesNotReevaluate(t *testing.T) {
	store := memstore.NewUserRepository()
	b := NewBootstrap(services.NewReconcileService(store, nil), NewAmbient())

	b.Observe(signedIn("u1", "a@x.com"))
	b.Wait()
	assert.False(t, b.Changed(signedIn("u1", "a@x.com")))

	// Different claims under the same pair are ignored.
	state := b.Observe(signedIn("u1", "other@x.com"))
	b.Wait()

	assert.Equal(t, StateSettled, state)
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, store.Stats().Queries)
}

func TestBootstrap_FailedSyncIsDistinguishable(t *testing.T) {
	ambient := NewAmbient()
	storeErr := errors.New("store down")
	b := NewBootstrap(failingReconciler{err: storeErr}, ambient)

	b.Observe(signedIn("u1", "a@x.com"))
	b.Wait()

	status := b.Status()
	assert.Equal(t, StateSettled, status.State)
	assert.False(t, status.Outcome.IsResolved())
	assert.ErrorIs(t, status.Outcome.Reason, storeErr)
	assert.Nil(t, ambient.ResolvedUser())
}

func TestBootstrap_ClaimsChecks(t *testing.T) {
	t.Run("missing claims", func(t *testing.T) {
		rec := newGatedReconciler()
		b := NewBootstrap(rec, NewAmbient())

		b.Observe(domain.AuthState{Loaded: true, SubjectID: "u1"})
		b.Wait()

		assert.ErrorIs(t, b.Status().Outcome.Reason, domain.ErrClaimsMissing)
		assert.Equal(t, 0, rec.callCount())
	})

	t.Run("subject mismatch", func(t *testing.T) {
		rec := newGatedReconciler()
		b := NewBootstrap(rec, NewAmbient())

		state := signedIn("u1", "a@x.com")
		state.Claims.SubjectID = "u2"
		b.Observe(state)
		b.Wait()

		assert.ErrorIs(t, b.Status().Outcome.Reason, domain.ErrSubjectMismatch)
		assert.Equal(t, 0, rec.callCount())
	})
}

func TestBootstrap_NewerTransitionSupersedes(t *testing.T) {
	rec := newGatedReconciler()
	ambient := NewAmbient()
	b := NewBootstrap(rec, ambient)

	b.Observe(signedIn("u1", "a@x.com"))
	require.Equal(t, "u1", <-rec.started)

	b.Observe(signedIn("u2", "b@x.com"))
	require.Equal(t, "u2", <-rec.started)

	close(rec.gate("u2"))
	b.Wait()

	status := b.Status()
	assert.Equal(t, StateSettled, status.State)
	assert.Equal(t, "u2", status.Subject)
	require.NotNil(t, ambient.ResolvedUser())
	assert.Equal(t, "id-u2", ambient.ResolvedUser().ID)
}

func TestBootstrap_SignOutDiscardsInflight(t *testing.T) {
	rec := newGatedReconciler()
	ambient := NewAmbient()
	b := NewBootstrap(rec, ambient)

	b.Observe(signedIn("u1", "a@x.com"))
	<-rec.started

	assert.Equal(t, StateCleared, b.Observe(domain.AuthState{Loaded: true}))
	close(rec.gate("u1"))
	b.Wait()

	assert.Equal(t, StateCleared, b.Status().State)
	assert.Nil(t, ambient.ResolvedUser())
}

func TestBootstrap_CloseClearsAmbient(t *testing.T) {
	store := memstore.NewUserRepository()
	ambient := NewAmbient()
	b := NewBootstrap(services.NewReconcileService(store, nil), ambient)

	b.Observe(signedIn("u1", "a@x.com"))
	b.Wait()
	require.NotNil(t, ambient.ResolvedUser())

	b.Close()

	assert.Nil(t, ambient.ResolvedUser())
	assert.Equal(t, StateCleared, b.Status().State)
	assert.Equal(t, StateCleared, b.Observe(signedIn("u2", "b@x.com")))
}

func TestAmbient_Watch(t *testing.T) {
	ambient := NewAmbient()
	ctx, cancel := context.WithCancel(context.Background())
	updates := ambient.Watch(ctx)

	assert.Nil(t, <-updates)

	ambient.publish(&domain.User{ID: "1"})
	got := <-updates
	require.NotNil(t, got)
	assert.Equal(t, "1", got.ID)

	ambient.publish(&domain.User{ID: "2"})
	ambient.publish(&domain.User{ID: "3"})
	got = <-updates
	assert.Equal(t, "3", got.ID)

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestAmbient_CloseReleasesWatchers(t *testing.T) {
	ambient := NewAmbient()
	baseline := runtime.NumGoroutine()

	subs := make([]<-chan *domain.User, 20)
	for i := range subs {
		subs[i] = ambient.Watch(context.Background())
	}
	ambient.close()

	for _, updates := range subs {
		for range updates {
		}
	}
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, time.Second, 10*time.Millisecond)

	_, ok := <-ambient.Watch(context.Background())
	assert.False(t, ok)
}

func TestAmbient_Slots(t *testing.T) {
	ambient := NewAmbient()
	assert.Nil(t, ambient.Messages())

	ambient.SetMessages([]byte(`{"hello":"world"}`))
	ambient.SetAction([]byte(`"open"`))

	assert.JSONEq(t, `{"hello":"world"}`, string(ambient.Messages()))
	assert.JSONEq(t, `"open"`, string(ambient.Action()))
}

func TestAmbient_ResolvedUserIsCopy(t *testing.T) {
	ambient := NewAmbient()
	ambient.publish(&domain.User{ID: "1", Name: "Ann"})

	u := ambient.ResolvedUser()
	u.Name = "changed"

	assert.Equal(t, "Ann", ambient.ResolvedUser().Name)
}
