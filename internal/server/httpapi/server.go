// Package httpapi exposes the auth service over HTTP. Handlers only
// translate transport: decode a request, call the service, map the closed
// error set onto status codes. No auth decisions live here.
package httpapi

import (
	"net/http"

	"github.com/avolkov/authcore/internal/logging"
	"github.com/avolkov/authcore/internal/server/services"
)

// Server wires the auth service into an http.Handler.
type Server struct {
	auth   *services.AuthService
	logger logging.Logger
}

func NewServer(auth *services.AuthService, logger logging.Logger) *Server {
	return &Server{
		auth:   auth,
		logger: logger.With("module", "httpapi"),
	}
}

// Handler returns the routed handler. Protected routes sit behind the
// Authenticate middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/logout", s.handleLogout)

	mux.Handle("GET /api/v1/auth/whoami", s.Authenticate(http.HandlerFunc(s.handleWhoami)))
	mux.Handle("POST /api/v1/auth/logout_all", s.Authenticate(http.HandlerFunc(s.handleLogoutAll)))
	mux.Handle("POST /api/v1/auth/password", s.Authenticate(http.HandlerFunc(s.handleChangePassword)))

	return mux
}
