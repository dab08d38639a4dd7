// Package web implements read-only status server of the console. It mirrors the dashboard
// as JSON for scripts and monitoring and serves archived execution history.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/qman/app/console"
	"github.com/umputun/qman/app/scheduler"
)

// StateProvider returns current console state
type StateProvider interface {
	Snapshot() console.State
}

// HistoryStore provides archived executions
type HistoryStore interface {
	Executions(ctx context.Context, group, name string, limit int) ([]scheduler.ExecutionLog, error)
}

// Server represents the status server
type Server struct {
	state        StateProvider
	history      HistoryStore
	version      string
	passwordHash string  // bcrypt hash for basic auth
	rateLimit    float64 // api requests per second per client
}

// Config holds server configuration
type Config struct {
	State        StateProvider // required
	History      HistoryStore  // optional, history endpoint responds with 404 without it
	Version      string
	PasswordHash string  // bcrypt hash for basic auth (empty to disable)
	RateLimit    float64 // api requests per second per client, 10 if not set
}

// New creates a new status server
func New(cfg Config) (*Server, error) {
	if cfg.State == nil {
		return nil, errors.New("status server initialization failed: state provider is required")
	}
	res := &Server{
		state:        cfg.State,
		history:      cfg.History,
		version:      cfg.Version,
		passwordHash: cfg.PasswordHash,
		rateLimit:    cfg.RateLimit,
	}
	if res.rateLimit <= 0 {
		res.rateLimit = 10
	}
	return res, nil
}

// Run starts the status server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting status server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(100),
		rest.AppInfo("qman", "umputun", s.version),
		rest.SizeLimit(1024), // read-only, no request bodies expected
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// exact root route, job names like "ping" under /api/v1/history must not be caught by it
	router.HandleFunc("GET /ping", s.handlePing)

	lmt := tollbooth.NewLimiter(s.rateLimit, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		if s.passwordHash != "" {
			log.Printf("[INFO] authentication enabled for status server")
			api.Use(s.authMiddleware)
		}
		api.Use(rest.NoCache, tollbooth.HTTPMiddleware(lmt))
		api.HandleFunc("GET /status", s.handleAPIStatus)
		api.HandleFunc("GET /history/{group}/{name}", s.handleAPIHistory)
	})

	return router
}
