package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/internal/audit"
	"go.pilab.hu/usersync/internal/metrics"
	"go.pilab.hu/usersync/tracing"
)

const auditService = "usersync"

// Reconciler maps identity claims to a persisted user.
type Reconciler interface {
	Reconcile(ctx context.Context, claims domain.Claims) domain.Outcome
}

// ReconcileService implements get-or-create-then-drift-correct over a user
// store. Within one Sync the lookup always precedes the single mutation.
type ReconcileService struct {
	users  domain.UserRepository
	lookup *LookupService
	locks  keyedMutex
}

// NewReconcileService creates a ReconcileService. A nil lookup is built
// over the same store.
func NewReconcileService(users domain.UserRepository, lookup *LookupService) *ReconcileService {
	if lookup == nil {
		lookup = NewLookupService(users)
	}
	return &ReconcileService{
		users:  users,
		lookup: lookup,
	}
}

// Reconcile is the best-effort entry point used by session bootstraps.
// Store failures are logged and reported as an unresolved outcome; they are
// never retried.
func (s *ReconcileService) Reconcile(ctx context.Context, claims domain.Claims) domain.Outcome {
	start := time.Now()
	user, action, err := s.Sync(ctx, claims)
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).
			Str("subject", claims.SubjectID).
			Str("email", claims.PrimaryEmail()).
			Msg("Identity reconciliation failed")
		return domain.Unresolved(err)
	}

	metrics.ReconcileTotal.WithLabelValues(string(action)).Inc()
	return domain.Resolved(user, action)
}

// Sync ensures exactly one user exists for the identity and that its email
// and name match the claims.
func (s *ReconcileService) Sync(ctx context.Context, claims domain.Claims) (*domain.User, domain.SyncAction, error) {
	ctx, span := tracing.Tracer().Start(ctx, "ReconcileService.Sync")
	defer span.End()

	user, action, err := s.sync(ctx, claims)
	span.SetAttributes(attribute.String("usersync.action", string(action)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return user, action, err
}

func (s *ReconcileService) sync(ctx context.Context, claims domain.Claims) (*domain.User, domain.SyncAction, error) {
	if claims.SubjectID == "" {
		return nil, domain.SyncActionNone, domain.ErrMissingSubject
	}

	email := claims.PrimaryEmail()
	name := claims.DisplayName()

	unlock := s.locks.Lock(email)
	defer unlock()

	existing, err := s.lookup.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, domain.SyncActionNone, err
	}

	if existing == nil {
		created, err := s.create(ctx, claims, email, name)
		if err == nil {
			return created, domain.SyncActionCreated, nil
		}
		if !errors.Is(err, domain.ErrDuplicateEmail) {
			return nil, domain.SyncActionNone, err
		}

		// Another writer inserted the same email after our lookup.
		log.Warn().Str("email", email).Msg("Lost insert race, reconciling against the existing user")
		existing, err = s.lookup.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, domain.SyncActionNone, err
		}
		if existing == nil {
			return nil, domain.SyncActionNone, fmt.Errorf("user for %s vanished after duplicate insert: %w", email, domain.ErrDuplicateEmail)
		}
	}

	if existing.Email == email && existing.Name == name {
		return existing, domain.SyncActionUnchanged, nil
	}

	patched, err := s.patch(ctx, existing, claims, email, name)
	if err != nil {
		return nil, domain.SyncActionNone, err
	}
	return patched, domain.SyncActionPatched, nil
}

func (s *ReconcileService) create(ctx context.Context, claims domain.Claims, email, name string) (*domain.User, error) {
	user := &domain.User{
		Email:      email,
		Name:       name,
		Picture:    claims.AvatarURL,
		UID:        claims.SubjectID,
		ExternalID: claims.SubjectID,
	}

	id, err := s.users.Insert(ctx, user)
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicateEmail) {
			audit.Log(auditService, "user.create", "", email, claims.SubjectID, false, err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	stored, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload created user %s: %w", id, err)
	}

	log.Info().Str("userID", id).Str("email", email).Str("subject", claims.SubjectID).Msg("User created from identity claims")
	audit.Log(auditService, "user.create", id, email, claims.SubjectID, true, nil)
	return stored, nil
}

func (s *ReconcileService) patch(ctx context.Context, existing *domain.User, claims domain.Claims, email, name string) (*domain.User, error) {
	picture := claims.AvatarURL
	patch := domain.UserPatch{
		Email:   &email,
		Name:    &name,
		Picture: &picture,
	}

	if err := s.users.Patch(ctx, existing.ID, patch); err != nil {
		audit.Log(auditService, "user.patch", existing.ID, email, "", false, err)
		return nil, fmt.Errorf("patch user %s: %w", existing.ID, err)
	}

	updated, err := s.users.Get(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("reload patched user %s: %w", existing.ID, err)
	}

	log.Info().Str("userID", existing.ID).
		Str("old_name", existing.Name).Str("new_name", name).
		Str("old_email", existing.Email).Str("new_email", email).
		Msg("User profile drift corrected")
	audit.Log(auditService, "user.patch", existing.ID, email, "name,email,picture", true, nil)
	return updated, nil
}

var _ Reconciler = (*ReconcileService)(nil)
