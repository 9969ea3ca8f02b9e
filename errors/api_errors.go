package errors

import "fmt"

// APIError is the JSON error body returned by the HTTP API. It keeps the
// OAuth 2.0 error shape so clients of the identity provider can reuse their
// error handling.
type APIError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Error codes
const (
	InvalidRequest         = "invalid_request"
	InvalidToken           = "invalid_token"
	NotFound               = "not_found"
	ServerError            = "server_error"
	TemporarilyUnavailable = "temporarily_unavailable"
)

func NewInvalidRequest(description string) *APIError {
	return &APIError{
		Code:        InvalidRequest,
		Description: description,
	}
}

func NewInvalidToken(description string) *APIError {
	return &APIError{
		Code:        InvalidToken,
		Description: description,
	}
}

func NewNotFound(description string) *APIError {
	return &APIError{
		Code:        NotFound,
		Description: description,
	}
}

func NewServerError(description string) *APIError {
	return &APIError{
		Code:        ServerError,
		Description: description,
	}
}

func NewTemporarilyUnavailable(description string) *APIError {
	return &APIError{
		Code:        TemporarilyUnavailable,
		Description: description,
	}
}
