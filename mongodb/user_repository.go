package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.pilab.hu/usersync/domain"
)

// UserRepository implements domain.UserRepository on the users collection.
type UserRepository struct {
	users *mongo.Collection
}

// UserRepositoryOption configures NewUserRepository.
type UserRepositoryOption func(*userRepositoryOptions)

type userRepositoryOptions struct {
	uniqueEmail bool
}

// WithUniqueEmail makes the by_email index unique, so that concurrent
// inserts of the same email fail with domain.ErrDuplicateEmail.
func WithUniqueEmail(unique bool) UserRepositoryOption {
	return func(o *userRepositoryOptions) {
		o.uniqueEmail = unique
	}
}

// NewUserRepository creates the repository and ensures the by_email index.
func NewUserRepository(ctx context.Context, db *mongo.Database, opts ...UserRepositoryOption) (*UserRepository, error) {
	var o userRepositoryOptions
	for _, opt := range opts {
		opt(&o)
	}

	repo := &UserRepository{
		users: db.Collection(UsersCollection),
	}
	if err := repo.createIndexes(ctx, o.uniqueEmail); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *UserRepository) createIndexes(ctx context.Context, unique bool) error {
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName(UsersByEmailIndex).SetUnique(unique),
	}

	if _, err := r.users.Indexes().CreateOne(ctx, model); err != nil {
		if unique && isIndexConflict(err) {
			// Existing data or an existing index rules out uniqueness; keep
			// serving with the in-process lock only.
			log.Warn().Err(err).Str("index", UsersByEmailIndex).
				Msg("Unique email index unavailable, falling back to a non-unique index")
			return r.createIndexes(ctx, false)
		}
		return fmt.Errorf("failed to create %s index on %s: %w", UsersByEmailIndex, UsersCollection, err)
	}
	log.Info().Bool("unique", unique).Msg("Indexes for users collection ensured.")
	return nil
}

// Server codes for IndexOptionsConflict and IndexKeySpecsConflict.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// isIndexConflict reports whether a unique index build failed because of
// duplicate documents or a differently configured index of the same name.
func isIndexConflict(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(codeIndexOptionsConflict) || se.HasErrorCode(codeIndexKeySpecsConflict)
	}
	return false
}

// FindByEmail returns the first user with the given email, or nil, nil.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	opts := options.FindOne().SetHint(UsersByEmailIndex)
	err := r.users.FindOne(ctx, bson.M{"email": email}, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		log.Error().Err(err).Str("email", email).Msg("Error getting user by email from MongoDB")
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// Insert stores a new user and returns its id.
func (r *UserRepository) Insert(ctx context.Context, user *domain.User) (string, error) {
	if err := user.Validate(); err != nil {
		return "", err
	}

	doc := *user
	if doc.ID == "" {
		doc.ID = NewObjectID()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := r.users.InsertOne(ctx, &doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", domain.ErrDuplicateEmail
		}
		log.Error().Err(err).Str("email", doc.Email).Msg("Error creating user in MongoDB")
		return "", fmt.Errorf("insert user: %w", err)
	}
	return doc.ID, nil
}

// Patch sets the provided profile fields on the user with the given id.
func (r *UserRepository) Patch(ctx context.Context, id string, patch domain.UserPatch) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.Email != nil {
		if *patch.Email == "" {
			return domain.ErrInvalidUser
		}
		set["email"] = *patch.Email
	}
	if patch.Name != nil {
		if *patch.Name == "" {
			return domain.ErrInvalidUser
		}
		set["name"] = *patch.Name
	}
	if patch.Picture != nil {
		set["picture"] = *patch.Picture
	}

	result, err := r.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateEmail
		}
		log.Error().Err(err).Str("userID", id).Msg("Error patching user in MongoDB")
		return fmt.Errorf("patch user: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Get returns the user with the given id.
func (r *UserRepository) Get(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error getting user by ID from MongoDB")
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

var _ domain.UserRepository = (*UserRepository)(nil)
