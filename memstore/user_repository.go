// Package memstore is an in-process document store implementing the user
// repository contract. It backs development runs and deterministic tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.pilab.hu/usersync/domain"
)

// Stats counts the store calls issued against a UserRepository.
type Stats struct {
	Queries int
	Inserts int
	Patches int
	Gets    int
}

// Writes is the number of mutations (inserts plus patches).
func (s Stats) Writes() int {
	return s.Inserts + s.Patches
}

// UserRepository keeps users in memory with an email index that preserves
// insertion order, so FindByEmail returns the first match like the
// document store does.
type UserRepository struct {
	mu          sync.RWMutex
	users       map[string]*domain.User
	byEmail     map[string][]string
	uniqueEmail bool
	stats       Stats
	now         func() time.Time
}

// Option configures a UserRepository.
type Option func(*UserRepository)

// WithUniqueEmail rejects a second user with the same email.
func WithUniqueEmail(unique bool) Option {
	return func(r *UserRepository) {
		r.uniqueEmail = unique
	}
}

// NewUserRepository creates an empty store.
func NewUserRepository(opts ...Option) *UserRepository {
	r := &UserRepository{
		users:   make(map[string]*domain.User),
		byEmail: make(map[string][]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindByEmail implements domain.UserRepository.
func (r *UserRepository) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Queries++

	ids := r.byEmail[email]
	if len(ids) == 0 {
		return nil, nil
	}
	user := *r.users[ids[0]]
	return &user, nil
}

// Insert implements domain.UserRepository.
func (r *UserRepository) Insert(_ context.Context, user *domain.User) (string, error) {
	if err := user.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Inserts++

	if r.uniqueEmail && len(r.byEmail[user.Email]) > 0 {
		return "", domain.ErrDuplicateEmail
	}

	doc := *user
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := r.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	r.users[doc.ID] = &doc
	r.byEmail[doc.Email] = append(r.byEmail[doc.Email], doc.ID)
	return doc.ID, nil
}

// Patch implements domain.UserPatch semantics: nil fields are untouched.
func (r *UserRepository) Patch(_ context.Context, id string, patch domain.UserPatch) error {
	if (patch.Email != nil && *patch.Email == "") || (patch.Name != nil && *patch.Name == "") {
		return domain.ErrInvalidUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Patches++

	user, ok := r.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if patch.Email != nil && *patch.Email != user.Email {
		if r.uniqueEmail && len(r.byEmail[*patch.Email]) > 0 {
			return domain.ErrDuplicateEmail
		}
		r.unindex(user.Email, id)
		r.byEmail[*patch.Email] = append(r.byEmail[*patch.Email], id)
	}
	patch.Apply(user)
	user.UpdatedAt = r.now()
	return nil
}

// Get implements domain.UserRepository.
func (r *UserRepository) Get(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Gets++

	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

// Stats returns a snapshot of the call counters.
func (r *UserRepository) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Count returns the number of stored users.
func (r *UserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *UserRepository) unindex(email, id string) {
	ids := r.byEmail[email]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byEmail, email)
		return
	}
	r.byEmail[email] = ids
}

var _ domain.UserRepository = (*UserRepository)(nil)
