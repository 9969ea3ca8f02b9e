package domain

import "context"

// UserRepository is the document store contract the synchronization flow
// depends on. The users collection carries a by_email index.
type UserRepository interface {
	// FindByEmail returns the first user with the given email, or nil, nil.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Insert stores a new user and returns the store-assigned id.
	Insert(ctx context.Context, user *User) (string, error)
	// Patch updates the provided fields of the user with the given id.
	Patch(ctx context.Context, id string, patch UserPatch) error
	// Get returns the user with the given id or ErrUserNotFound.
	Get(ctx context.Context, id string) (*User, error)
}
