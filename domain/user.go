package domain

import "time"

// User is the application-owned mirror of an identity provider account.
type User struct {
	ID         string    `bson:"_id,omitempty" json:"id"`
	Email      string    `bson:"email" json:"email"`
	Name       string    `bson:"name" json:"name"`
	Picture    string    `bson:"picture" json:"picture"`
	ExternalID string    `bson:"clerkId" json:"external_id"` // Identity provider subject, never changes after insert
	UID        string    `bson:"uid" json:"uid"`
	CreatedAt  time.Time `bson:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt  time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Validate reports whether u can be written to a user store.
func (u *User) Validate() error {
	if u == nil {
		return ErrInvalidUser
	}
	if u.Email == "" || u.Name == "" || u.ExternalID == "" || u.UID == "" {
		return ErrInvalidUser
	}
	return nil
}

// UserPatch is a partial update of the mutable profile fields.
// Nil fields are left untouched.
type UserPatch struct {
	Email   *string `json:"email,omitempty"`
	Name    *string `json:"name,omitempty"`
	Picture *string `json:"picture,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p UserPatch) IsEmpty() bool {
	return p.Email == nil && p.Name == nil && p.Picture == nil
}

// Apply copies the patched fields onto u.
func (p UserPatch) Apply(u *User) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Picture != nil {
		u.Picture = *p.Picture
	}
}
