package echo

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/dto"
	apierrors "go.pilab.hu/usersync/errors"
	"go.pilab.hu/usersync/internal/federation"
	"go.pilab.hu/usersync/services"
	"go.pilab.hu/usersync/session"
)

const maxSlotSize = 64 << 10

// SessionAPI exposes session bootstrap, the ambient context and user lookup
// over HTTP.
type SessionAPI struct {
	manager    *session.Manager
	lookup     *services.LookupService
	claims     federation.ClaimsSource
	cookieName string
}

// SessionAPIOptions holds the dependencies of SessionAPI. A nil Claims source
// trusts claims sent by the client.
type SessionAPIOptions struct {
	Manager    *session.Manager
	Lookup     *services.LookupService
	Claims     federation.ClaimsSource
	CookieName string
}

// NewSessionAPI initializes the session API.
func NewSessionAPI(opts SessionAPIOptions) *SessionAPI {
	if opts.CookieName == "" {
		opts.CookieName = DefaultSessionCookie
	}
	return &SessionAPI{
		manager:    opts.Manager,
		lookup:     opts.Lookup,
		claims:     opts.Claims,
		cookieName: opts.CookieName,
	}
}

// RegisterRoutes registers the session and user routes.
func (a *SessionAPI) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/session", SessionCookie(a.manager, a.cookieName))
	g.POST("/auth-state", a.AuthStateHandler)
	g.GET("", a.StatusHandler)
	g.GET("/messages", a.GetMessagesHandler)
	g.PUT("/messages", a.PutMessagesHandler)
	g.GET("/action", a.GetActionHandler)
	g.PUT("/action", a.PutActionHandler)

	e.GET("/api/users", a.LookupHandler)
}

func newSessionResponse(s *session.Session) dto.SessionResponse {
	status := s.Bootstrap.Status()
	resp := dto.SessionResponse{
		State:     status.State.String(),
		SubjectID: status.Subject,
		User:      dto.FromDomainUser(s.Ambient.ResolvedUser()),
		Action:    status.Outcome.Action,
	}
	if status.Outcome.Reason != nil {
		resp.SyncError = status.Outcome.Reason.Error()
	}
	return resp
}

// AuthStateHandler receives the identity provider's auth state for the
// session. When a claims source is configured, claims are fetched with the
// request's bearer token whenever the transition triggers a
// reconciliation. With ?wait=true the response is sent after the
// reconciliation settles.
func (a *SessionAPI) AuthStateHandler(c echo.Context) error {
	sess := currentSession(c)

	var req dto.AuthStateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("Malformed auth state"))
	}
	state := req.ToAuthState()

	if a.claims != nil {
		state.Claims = nil
		if state.SignedIn() && sess.Bootstrap.Changed(state) {
			claims, apiErr, status := a.fetchClaims(c, state.SubjectID)
			if apiErr != nil {
				return c.JSON(status, apiErr)
			}
			state.Claims = claims
		}
	}

	sess.Bootstrap.Observe(state)
	if c.QueryParam("wait") == "true" {
		sess.Bootstrap.Wait()
	}

	return c.JSON(http.StatusOK, newSessionResponse(sess))
}

func (a *SessionAPI) fetchClaims(c echo.Context, subject string) (*domain.Claims, *apierrors.APIError, int) {
	token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		return nil, apierrors.NewInvalidToken("Bearer token required"), http.StatusUnauthorized
	}

	claims, err := a.claims.FetchClaims(c.Request().Context(), token)
	switch {
	case errors.Is(err, federation.ErrTokenRejected):
		return nil, apierrors.NewInvalidToken("Access token rejected by identity provider"), http.StatusUnauthorized
	case err != nil:
		log.Error().Err(err).Str("subject", subject).Msg("Failed to fetch identity claims")
		return nil, apierrors.NewTemporarilyUnavailable("Identity provider unavailable"), http.StatusServiceUnavailable
	case claims.SubjectID != subject:
		log.Warn().Str("reported", subject).Str("token_subject", claims.SubjectID).Msg("Auth state subject does not match token")
		return nil, apierrors.NewInvalidToken(domain.ErrSubjectMismatch.Error()), http.StatusUnauthorized
	}

	return claims, nil, 0
}

// StatusHandler returns the session's state and resolved user.
func (a *SessionAPI) StatusHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, newSessionResponse(currentSession(c)))
}

// GetMessagesHandler returns the messages slot.
func (a *SessionAPI) GetMessagesHandler(c echo.Context) error {
	return writeSlot(c, currentSession(c).Ambient.Messages())
}

// PutMessagesHandler replaces the messages slot.
func (a *SessionAPI) PutMessagesHandler(c echo.Context) error {
	payload, err := readSlot(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest(err.Error()))
	}
	currentSession(c).Ambient.SetMessages(payload)
	return c.NoContent(http.StatusNoContent)
}

// GetActionHandler returns the action slot.
func (a *SessionAPI) GetActionHandler(c echo.Context) error {
	return writeSlot(c, currentSession(c).Ambient.Action())
}

// PutActionHandler replaces the action slot.
func (a *SessionAPI) PutActionHandler(c echo.Context) error {
	payload, err := readSlot(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest(err.Error()))
	}
	currentSession(c).Ambient.SetAction(payload)
	return c.NoContent(http.StatusNoContent)
}

// LookupHandler finds a user by email.
func (a *SessionAPI) LookupHandler(c echo.Context) error {
	email := strings.TrimSpace(c.QueryParam("email"))
	if email == "" {
		return c.JSON(http.StatusBadRequest, apierrors.NewInvalidRequest("email is required"))
	}

	user, err := a.lookup.GetUserByEmail(c.Request().Context(), email)
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("User lookup failed")
		return c.JSON(http.StatusServiceUnavailable, apierrors.NewTemporarilyUnavailable("User store unavailable"))
	}
	if user == nil {
		return c.JSON(http.StatusNotFound, apierrors.NewNotFound("No user with this email"))
	}

	return c.JSON(http.StatusOK, dto.FromDomainUser(user))
}

func writeSlot(c echo.Context, payload json.RawMessage) error {
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return c.JSONBlob(http.StatusOK, payload)
}

func readSlot(c echo.Context) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSlotSize+1))
	if err != nil {
		return nil, errors.New("failed to read body")
	}
	if len(body) > maxSlotSize {
		return nil, errors.New("payload too large")
	}
	if !json.Valid(body) {
		return nil, errors.New("body must be valid JSON")
	}
	return body, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
