// Package server exposes the connector's operational HTTP surface: health,
// liveness, readiness, startup, version, and an opt-in admin signal endpoint.
package server

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/s3conduit/internal/errors"
	"github.com/3leaps/s3conduit/internal/server/handlers"
	"github.com/3leaps/s3conduit/internal/server/middleware"
)

// Server hosts the chi router bound to a host:port pair.
type Server struct {
	host string
	port int
	mux  chi.Router
}

// New builds a Server with routes registered but not yet listening.
func New(host string, port int) *Server {
	s := &Server{host: host, port: port}
	s.mux = s.buildRouter()
	return s
}

// Port returns the port the server was configured with.
func (s *Server) Port() int { return s.port }

// Handler returns the server's http.Handler, primarily for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the host:port the server will listen on.
func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.host, s.port) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewNotFoundError("resource not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, &apperrors.AppError{
			Code:    "METHOD_NOT_ALLOWED",
			Status:  http.StatusMethodNotAllowed,
			Message: "method not allowed",
		})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(currentVersionInfo()))

	registerAdminEndpoint(r)

	return r
}

// versionInfoProvider is overridden by internal/cmd so /version reflects the
// binary's build metadata instead of a zero value.
var versionInfoProvider = func() handlers.VersionInfo { return handlers.VersionInfo{} }

// SetVersionInfoProvider lets callers (internal/cmd) supply the build-time
// version metadata served at /version.
func SetVersionInfoProvider(fn func() handlers.VersionInfo) {
	versionInfoProvider = fn
}

func currentVersionInfo() handlers.VersionInfo { return versionInfoProvider() }

// registerAdminEndpoint mounts POST /admin/signal only when an admin token
// is configured via S3CONDUIT_ADMIN_TOKEN, or (for operators migrating from
// the prior binary name) GONIMBUS_ADMIN_TOKEN / WORKHORSE_ADMIN_TOKEN.
func registerAdminEndpoint(r chi.Router) {
	token := adminToken()
	if token == "" {
		return
	}
	r.Post("/admin/signal", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Token") != token {
			apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("invalid admin token"))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}

func adminToken() string {
	for _, env := range []string{"S3CONDUIT_ADMIN_TOKEN", "GONIMBUS_ADMIN_TOKEN", "WORKHORSE_ADMIN_TOKEN"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}
