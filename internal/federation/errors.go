package federation

import "errors"

var (
	ErrFetchUserInfoFailed   = errors.New("failed to fetch user info from provider")
	ErrProviderMisconfigured = errors.New("provider is misconfigured")
	ErrMissingAccessToken    = errors.New("missing access token")
	ErrTokenRejected         = errors.New("access token rejected by provider")
)
