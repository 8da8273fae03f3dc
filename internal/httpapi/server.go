// Package httpapi exposes the balance, user and reconciliation operations
// over a JSON API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/balance"
	"github.com/franciscozunigap/sofinance/internal/log"
	"github.com/franciscozunigap/sofinance/internal/offline"
	"github.com/franciscozunigap/sofinance/internal/user"
)

// TokenVerifier resolves a bearer token to a user. The local auth provider
// implements it.
type TokenVerifier interface {
	VerifyToken(token string) (auth.User, error)
}

type Server struct {
	balance  *balance.Service
	users    *user.Service
	auth     auth.Provider
	verifier TokenVerifier
	queue    *offline.Queue
	logger   *log.Logger
	limiter  *rateLimiter

	httpServer *http.Server
}

func NewServer(
	port string,
	balanceSvc *balance.Service,
	userSvc *user.Service,
	provider auth.Provider,
	verifier TokenVerifier,
	queue *offline.Queue,
	logger *log.Logger,
) *Server {
	s := &Server{
		balance:  balanceSvc,
		users:    userSvc,
		auth:     provider,
		verifier: verifier,
		queue:    queue,
		logger:   logger.WithComponent(log.ComponentHTTP),
		limiter:  newRateLimiter(120),
	}

	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router builds the route tree. Exposed for tests.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(secureHeaders)
	r.Use(s.limiter.middleware)
	r.Use(log.Middleware(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/signup", s.handleSignUp)
		r.Post("/signin", s.handleSignIn)

		r.With(s.requireAuth).Group(func(r chi.Router) {
			r.Post("/balance", s.handleRegister)
			r.Get("/balance", s.handleCurrentBalance)
			r.Get("/history", s.handleHistory)
			r.Get("/stats/{year}/{month}", s.handleMonthStats)
			r.Get("/summary", s.handleSummary)
			r.Post("/reconciliation/validate", s.handleValidateRecords)
			r.Get("/user", s.handleGetProfile)
			r.Put("/user", s.handleUpdateProfile)
		})
	})

	return r
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
