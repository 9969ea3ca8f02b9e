package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.pilab.hu/usersync/domain"
	"golang.org/x/oauth2"
)

// GoogleUserInfoEndpoint is Google's OIDC userinfo endpoint.
var GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// knownEndpoints maps provider shorthands accepted in configuration to their
// userinfo endpoints.
var knownEndpoints = map[string]string{
	"google": GoogleUserInfoEndpoint,
}

// ClaimsSource fetches the identity claims of the holder of an access token.
type ClaimsSource interface {
	FetchClaims(ctx context.Context, accessToken string) (*domain.Claims, error)
}

// UserInfoClient reads claims from an OIDC userinfo endpoint.
type UserInfoClient struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a UserInfoClient.
type Option func(*UserInfoClient)

// WithHTTPClient sets the base client the bearer transport wraps.
func WithHTTPClient(c *http.Client) Option {
	return func(u *UserInfoClient) {
		u.httpClient = c
	}
}

// NewUserInfoClient creates a client for endpoint, which is either a URL or
// a known provider name such as "google".
func NewUserInfoClient(endpoint string, opts ...Option) (*UserInfoClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if known, ok := knownEndpoints[strings.ToLower(endpoint)]; ok {
		endpoint = known
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("%w: userinfo endpoint %q", ErrProviderMisconfigured, endpoint)
	}

	u := &UserInfoClient{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(u)
	}

	return u, nil
}

// Endpoint returns the resolved userinfo URL.
func (u *UserInfoClient) Endpoint() string {
	return u.endpoint
}

// FetchClaims calls the userinfo endpoint with accessToken as bearer.
func (u *UserInfoClient) FetchClaims(ctx context.Context, accessToken string) (*domain.Claims, error) {
	if accessToken == "" {
		return nil, ErrMissingAccessToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, u.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchUserInfoFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrTokenRejected
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrFetchUserInfoFailed, resp.StatusCode, string(body))
	}

	var claims domain.Claims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrFetchUserInfoFailed, err)
	}
	if claims.SubjectID == "" {
		return nil, fmt.Errorf("%w: response has no sub", ErrFetchUserInfoFailed)
	}

	return &claims, nil
}

// Ensure UserInfoClient implements ClaimsSource.
var _ ClaimsSource = (*UserInfoClient)(nil)
