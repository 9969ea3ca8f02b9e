package services

import (
	"context"
	"fmt"

	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/internal/metrics"
)

// LookupService resolves users by their natural key.
type LookupService struct {
	users domain.UserRepository
}

// NewLookupService creates a LookupService over the given store.
func NewLookupService(users domain.UserRepository) *LookupService {
	return &LookupService{users: users}
}

// GetUserByEmail returns the first user stored under email, or nil when
// there is none. An empty email is a valid "absent" input: it returns nil
// without touching the store.
func (s *LookupService) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}

	if user == nil {
		metrics.LookupTotal.WithLabelValues("miss").Inc()
	} else {
		metrics.LookupTotal.WithLabelValues("hit").Inc()
	}
	return user, nil
}
