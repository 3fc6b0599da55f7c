package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/auth"
	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/storage"
	"github.com/track-server/track-server-pro/internal/validation"
)

// RESTServer represents the REST API server. Besides the fleet management
// endpoints it hosts the HTTP query-parameter ingest endpoint when one is
// configured.
type RESTServer struct {
	config    *config.Config
	store     storage.Store
	auth      *auth.JWTManager
	validator *validation.Validator
	ingest    *ingestHandler
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, nc *nats.Conn) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		store:     store,
		auth:      auth.NewJWTManager(&cfg.JWT),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	if cfg.HTTPIngest.Enabled {
		s.ingest = newIngestHandler(store, nc, &cfg.HTTPIngest)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Device-facing ingest endpoint, outside the versioned API and
	// outside JWT auth: trackers authenticate per request
	if s.ingest != nil {
		path := s.config.HTTPIngest.Path
		if path == "" {
			path = "/gprmc"
		}
		s.router.Get(path, s.ingest.ServeHTTP)
		s.router.Post(path, s.ingest.ServeHTTP)
	}

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type contextKey string

const claimsKey contextKey = "claims"

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		// Validate token
		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// Add claims to context
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestClaims returns the authenticated claims, or nil on public routes
func requestClaims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

// authorizedAccount reports whether the request may act on an account.
// Admin tokens may act on any account; scoped tokens only on their own.
func authorizedAccount(r *http.Request, accountID string) bool {
	claims := requestClaims(r)
	if claims == nil {
		return false
	}
	if claims.IsAdmin {
		return true
	}
	return claims.AccountID != nil && *claims.AccountID == accountID
}
