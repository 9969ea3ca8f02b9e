package dto

import (
	"time"

	"go.pilab.hu/usersync/domain"
)

// UserResponse defines the structure for API responses containing user information.
type UserResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Picture    string    `json:"picture,omitempty"`
	ExternalID string    `json:"external_id"`
	UID        string    `json:"uid"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FromDomainUser converts a domain.User to UserResponse. A nil user gives nil.
func FromDomainUser(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Picture:    u.Picture,
		ExternalID: u.ExternalID,
		UID:        u.UID,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}
