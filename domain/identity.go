package domain

import "strings"

// DefaultDisplayName is stored when the identity provider supplies no name parts.
const DefaultDisplayName = "User"

// Claims is the set of attributes the identity provider asserts about the
// signed-in user.
type Claims struct {
	SubjectID  string `json:"sub"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	AvatarURL  string `json:"picture,omitempty"`
}

// PrimaryEmail returns the email claim, or the subject id when the provider
// did not assert one. The result is the natural key of the local record.
func (c Claims) PrimaryEmail() string {
	if email := strings.TrimSpace(c.Email); email != "" {
		return email
	}
	return c.SubjectID
}

// DisplayName joins the name parts and falls back to DefaultDisplayName.
func (c Claims) DisplayName() string {
	name := strings.TrimSpace(c.GivenName + " " + c.FamilyName)
	if name == "" {
		return DefaultDisplayName
	}
	return name
}

// AuthState is what the identity provider reports about the current session.
// Only Loaded and SubjectID drive re-evaluation; Claims ride along.
type AuthState struct {
	Loaded    bool    `json:"loaded"`
	SubjectID string  `json:"subject_id,omitempty"`
	Claims    *Claims `json:"claims,omitempty"`
}

// SignedIn reports whether the state carries a signed-in subject.
func (s AuthState) SignedIn() bool {
	return s.Loaded && s.SubjectID != ""
}
