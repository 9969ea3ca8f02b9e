package domain

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidUser     = errors.New("user record is missing required fields")
	ErrDuplicateEmail  = errors.New("a user with this email already exists")
	ErrMissingSubject  = errors.New("identity has no subject id")
	ErrClaimsMissing   = errors.New("identity claims are not available")
	ErrSubjectMismatch = errors.New("identity claims belong to a different subject")
)
