package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/memstore"
)

func annLee() domain.Claims {
	return domain.Claims{
		SubjectID:  "u1",
		Email:      "a@x.com",
		GivenName:  "Ann",
		FamilyName: "Lee",
		AvatarURL:  "p.png",
	}
}

func TestReconcileService_CreatesMissingUser(t *testing.T) {
	ctx := context.Background()
	repo := new(MockUserRepository)
	svc := NewReconcileService(repo, nil)

	repo.On("FindByEmail", mock.Anything, "a@x.com").Return(nil, nil).Once()
	repo.On("Insert", mock.Anything, mock.AnythingOfType("*domain.User")).Run(func(args mock.Arguments) {
		u := args.Get(1).(*domain.User)
		assert.Equal(t, "a@x.com", u.Email)
		assert.Equal(t, "Ann Lee", u.Name)
		assert.Equal(t, "p.png", u.Picture)
		assert.Equal(t, "u1", u.UID)
		assert.Equal(t, "u1", u.ExternalID)
	}).Return("id-1", nil).Once()
	stored := &domain.User{
		ID:         "id-1",
		Email:      "a@x.com",
		Name:       "Ann Lee",
		Picture:    "p.png",
		UID:        "u1",
		ExternalID: "u1",
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	repo.On("Get", mock.Anything, "id-1").Return(stored, nil).Once()

	outcome := svc.Reconcile(ctx, annLee())

	require.True(t, outcome.IsResolved())
	assert.Equal(t, domain.SyncActionCreated, outcome.Action)
	assert.Equal(t, stored, outcome.User)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "Patch", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileService_PatchesDriftedName(t *testing.T) {
	ctx := context.Background()
	repo := new(MockUserRepository)
	svc := NewReconcileService(repo, nil)

	existing := &domain.User{ID: "id-1", Email: "a@x.com", Name: "Ann Lee", Picture: "p.png", UID: "u1", ExternalID: "u1"}
	patched := &domain.User{ID: "id-1", Email: "a@x.com", Name: "Ann Lane", Picture: "p.png", UID: "u1", ExternalID: "u1"}

	repo.On("FindByEmail", mock.Anything, "a@x.com").Return(existing, nil).Once()
	repo.On("Patch", mock.Anything, "id-1", domain.UserPatch{
		Email:   strPtr("a@x.com"),
		Name:    strPtr("Ann Lane"),
		Picture: strPtr("p.png"),
	}).Return(nil).Once()
	repo.On("Get", mock.Anything, "id-1").Return(patched, nil).Once()

	claims := annLee()
	claims.FamilyName = "Lane"
	outcome := svc.Reconcile(ctx, claims)

	require.True(t, outcome.IsResolved())
	assert.Equal(t, domain.SyncActionPatched, outcome.Action)
	assert.Equal(t, "Ann Lane", outcome.User.Name)
	repo.AssertNumberOfCalls(t, "Patch", 1)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestReconcileService_NoDriftNoWrite(t *testing.T) {
	ctx := context.Background()
	repo := new(MockUserRepository)
	svc := NewReconcileService(repo, nil)

	existing := &domain.User{ID: "id-1", Email: "a@x.com", Name: "Ann Lee", Picture: "old.png", UID: "u1", ExternalID: "u1"}
	repo.On("FindByEmail", mock.Anything, "a@x.com").Return(existing, nil).Once()

	// Picture drift alone does not trigger a patch.
	outcome := svc.Reconcile(ctx, annLee())

	require.True(t, outcome.IsResolved())
	assert.Equal(t, domain.SyncActionUnchanged, outcome.Action)
	assert.Same(t, existing, outcome.User)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Patch", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestReconcileService_StoreFailuresAreUnresolved(t *testing.T) {
	ctx := context.Background()
	storeErr := errors.New("server selection timeout")

	t.Run("lookup fails", func(t *testing.T) {
		repo := new(MockUserRepository)
		svc := NewReconcileService(repo, nil)
		repo.On("FindByEmail", mock.Anything, "a@x.com").Return(nil, storeErr).Once()

		outcome := svc.Reconcile(ctx, annLee())

		assert.False(t, outcome.IsResolved())
		assert.Nil(t, outcome.User)
		assert.ErrorIs(t, outcome.Reason, storeErr)
		repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("insert fails", func(t *testing.T) {
		repo := new(MockUserRepository)
		svc := NewReconcileService(repo, nil)
		repo.On("FindByEmail", mock.Anything, "a@x.com").Return(nil, nil).Once()
		repo.On("Insert", mock.Anything, mock.Anything).Return("", domain.ErrInvalidUser).Once()

		outcome := svc.Reconcile(ctx, annLee())

		assert.False(t, outcome.IsResolved())
		assert.ErrorIs(t, outcome.Reason, domain.ErrInvalidUser)
		repo.AssertNumberOfCalls(t, "FindByEmail", 1)
	})

	t.Run("patch fails", func(t *testing.T) {
		repo := new(MockUserRepository)
		svc := NewReconcileService(repo, nil)
		existing := &domain.User{ID: "id-1", Email: "a@x.com", Name: "Old Name"}
		repo.On("FindByEmail", mock.Anything, "a@x.com").Return(existing, nil).Once()
		repo.On("Patch", mock.Anything, "id-1", mock.Anything).Return(storeErr).Once()

		outcome := svc.Reconcile(ctx, annLee())

		assert.False(t, outcome.IsResolved())
		assert.ErrorIs(t, outcome.Reason, storeErr)
		repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})
}

func TestReconcileService_MissingSubject(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewReconcileService(repo, nil)

	_, action, err := svc.Sync(context.Background(), domain.Claims{Email: "a@x.com"})

	assert.ErrorIs(t, err, domain.ErrMissingSubject)
	assert.Equal(t, domain.SyncActionNone, action)
	repo.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
}

func TestReconcileService_DuplicateInsertFallsBackToFoundBranch(t *testing.T) {
	ctx := context.Background()
	repo := new(MockUserRepository)
	svc := NewReconcileService(repo, nil)

	winner := &domain.User{ID: "id-9", Email: "a@x.com", Name: "Ann Lee", UID: "u1", ExternalID: "u1"}
	repo.On("FindByEmail", mock.Anything, "a@x.com").Return(nil, nil).Once()
	repo.On("Insert", mock.Anything, mock.Anything).Return("", domain.ErrDuplicateEmail).Once()
	repo.On("FindByEmail", mock.Anything, "a@x.com").Return(winner, nil).Once()

	user, action, err := svc.Sync(ctx, annLee())

	require.NoError(t, err)
	assert.Equal(t, domain.SyncActionUnchanged, action)
	assert.Equal(t, "id-9", user.ID)
	repo.AssertExpectations(t)
}

// The properties below run against the in-process document store.

func TestReconcileService_CreatedUserCarriesStoredTimestamps(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUserRepository()
	svc := NewReconcileService(store, nil)

	outcome := svc.Reconcile(ctx, annLee())
	require.True(t, outcome.IsResolved())
	assert.False(t, outcome.User.CreatedAt.IsZero())
	assert.False(t, outcome.User.UpdatedAt.IsZero())

	stored, err := store.Get(ctx, outcome.User.ID)
	require.NoError(t, err)
	assert.Equal(t, stored, outcome.User)
}

func TestReconcileService_ReconcileThenLookup(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUserRepository()
	lookup := NewLookupService(store)
	svc := NewReconcileService(store, lookup)

	outcome := svc.Reconcile(ctx, annLee())
	require.True(t, outcome.IsResolved())

	found, err := lookup.GetUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a@x.com", found.Email)
	assert.Equal(t, outcome.User.ID, found.ID)
}

func TestReconcileService_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUserRepository()
	svc := NewReconcileService(store, nil)

	first := svc.Reconcile(ctx, annLee())
	require.True(t, first.IsResolved())
	assert.Equal(t, 1, store.Stats().Writes())

	second := svc.Reconcile(ctx, annLee())
	require.True(t, second.IsResolved())
	assert.Equal(t, domain.SyncActionUnchanged, second.Action)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, 1, store.Stats().Writes())
}

func TestReconcileService_DriftCorrection(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUserRepository()
	svc := NewReconcileService(store, nil)

	id, err := store.Insert(ctx, &domain.User{Email: "a@x.com", Name: "Old Name", Picture: "p.png", UID: "u1", ExternalID: "u1"})
	require.NoError(t, err)

	claims := domain.Claims{SubjectID: "u1", Email: "a@x.com", GivenName: "New", FamilyName: "Name", AvatarURL: "q.png"}
	outcome := svc.Reconcile(ctx, claims)
	require.True(t, outcome.IsResolved())
	assert.Equal(t, domain.SyncActionPatched, outcome.Action)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Name)
	assert.Equal(t, "q.png", got.Picture)
	assert.Equal(t, "u1", got.UID)
	assert.Equal(t, 1, store.Stats().Patches)
}

func TestReconcileService_Fallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("empty name parts", func(t *testing.T) {
		store := memstore.NewUserRepository()
		svc := NewReconcileService(store, nil)

		outcome := svc.Reconcile(ctx, domain.Claims{SubjectID: "u2", Email: "b@x.com"})
		require.True(t, outcome.IsResolved())
		assert.Equal(t, "User", outcome.User.Name)
	})

	t.Run("missing email", func(t *testing.T) {
		store := memstore.NewUserRepository()
		svc := NewReconcileService(store, nil)

		outcome := svc.Reconcile(ctx, domain.Claims{SubjectID: "ext-123", GivenName: "Bo"})
		require.True(t, outcome.IsResolved())
		assert.Equal(t, "ext-123", outcome.User.Email)

		found, err := store.FindByEmail(ctx, "ext-123")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Bo", found.Name)
	})
}

func TestReconcileService_AnnScenario(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUserRepository()
	svc := NewReconcileService(store, nil)

	created := svc.Reconcile(ctx, annLee())
	require.True(t, created.IsResolved())
	assert.Equal(t, domain.SyncActionCreated, created.Action)
	assert.Equal(t, "Ann Lee", created.User.Name)

	claims := annLee()
	claims.FamilyName = "Lane"
	patched := svc.Reconcile(ctx, claims)
	require.True(t, patched.IsResolved())
	assert.Equal(t, domain.SyncActionPatched, patched.Action)
	assert.Equal(t, "Ann Lane", patched.User.Name)
	assert.Equal(t, created.User.ID, patched.User.ID)

	stats := store.Stats()
	assert.Equal(t, 1, stats.Inserts)
	assert.Equal(t, 1, stats.Patches)
}

func TestReconcileService_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewUserRepository()
	svc := NewReconcileService(store, nil)

	var wg sync.WaitGroup
	outcomes := make([]domain.Outcome, 20)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = svc.Reconcile(ctx, annLee())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, store.Stats().Inserts)
	for _, o := range outcomes {
		require.True(t, o.IsResolved())
		assert.Equal(t, outcomes[0].User.ID, o.User.ID)
	}
}
