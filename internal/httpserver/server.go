package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"marketplace/identity/internal/config"
	authdomain "marketplace/identity/internal/domain/auth"
	authusecase "marketplace/identity/internal/usecase/auth"
	userusecase "marketplace/identity/internal/usecase/user"
)

// RequestAuthenticator turns a bearer token into the caller's identity.
type RequestAuthenticator interface {
	Resolve(ctx context.Context, token, requestedRole string) (*authdomain.RequestUser, error)
}

// Dependencies groups the services the HTTP layer dispatches to.
type Dependencies struct {
	Auth          *authusecase.Service
	Users         *userusecase.Service
	Authenticator RequestAuthenticator
	// RateLimiter guards credential endpoints; nil disables it.
	RateLimiter *RateLimiter
	Logger      *slog.Logger
}

// Server wraps the HTTP server lifecycle.
type Server struct {
	httpServer    *http.Server
	router        *http.ServeMux
	authService   *authusecase.Service
	userService   *userusecase.Service
	authenticator RequestAuthenticator
	limiter       *RateLimiter
	logger        *slog.Logger
	addr          string
}

// NewServer constructs a new Server with configured dependencies.
func NewServer(cfg config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	addr := cfg.HTTPPort
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	srv := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      withLogging(withCORS(mux, cfg.AllowedOrigins), logger),
			ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
			IdleTimeout:  time.Duration(cfg.IdleTimeoutSec) * time.Second,
			ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
		},
		router:        mux,
		authService:   deps.Auth,
		userService:   deps.Users,
		authenticator: deps.Authenticator,
		limiter:       deps.RateLimiter,
		logger:        logger,
		addr:          addr,
	}
	srv.registerRoutes()
	return srv
}

// Start bootstraps the HTTP server on the configured address.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured network address for the HTTP server.
func (s *Server) Addr() string {
	return s.addr
}
