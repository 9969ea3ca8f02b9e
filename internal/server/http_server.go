package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	echoapi "go.pilab.hu/usersync/api/echo"
	"go.pilab.hu/usersync/config"
	"go.pilab.hu/usersync/log"
)

// NewHTTPServer builds the echo router and wraps it in an http.Server.
func NewHTTPServer(
	cfg *config.ServerConfig,
	appLogger log.Logger,
	sessionAPI *echoapi.SessionAPI,
	gatherer prometheus.Gatherer,
	checks map[string]echoapi.HealthCheck,
) *http.Server {
	e := NewRouter(appLogger, sessionAPI, gatherer, checks)

	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      e,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// NewRouter registers middleware and routes on a fresh echo instance.
func NewRouter(
	appLogger log.Logger,
	sessionAPI *echoapi.SessionAPI,
	gatherer prometheus.Gatherer,
	checks map[string]echoapi.HealthCheck,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(echoapi.RequestLogger(appLogger))
	e.Use(echoapi.SecurityHeaders())

	sessionAPI.RegisterRoutes(e)
	echoapi.RegisterOps(e, gatherer, checks)

	return e
}
