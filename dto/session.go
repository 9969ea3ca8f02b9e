package dto

import "go.pilab.hu/usersync/domain"

// AuthStateRequest is what a client reports after the identity provider's
// state changes. Claims are only honoured when no userinfo endpoint is
// configured.
type AuthStateRequest struct {
	Loaded    bool           `json:"loaded"`
	SubjectID string         `json:"subject_id,omitempty"`
	Claims    *domain.Claims `json:"claims,omitempty"`
}

// ToAuthState converts the request to a domain.AuthState.
func (r AuthStateRequest) ToAuthState() domain.AuthState {
	return domain.AuthState{
		Loaded:    r.Loaded,
		SubjectID: r.SubjectID,
		Claims:    r.Claims,
	}
}

// SessionResponse is the HTTP projection of a session's ambient context.
// User is null when nobody is signed in or reconciliation failed; SyncError
// tells the two apart.
type SessionResponse struct {
	State     string            `json:"state"`
	SubjectID string            `json:"subject_id,omitempty"`
	User      *UserResponse     `json:"user"`
	Action    domain.SyncAction `json:"action,omitempty"`
	SyncError string            `json:"sync_error,omitempty"`
}
