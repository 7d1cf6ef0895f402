// Package server exposes the deployment pipeline over HTTP: a push webhook
// that triggers a redeploy of the configured application, plus read-only
// endpoints for health and run history. One server fronts one application on
// one host; a non-blocking lock guarantees at most one deployment runs at a
// time and later pushes are rejected, not queued.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/stevedore/internal/core/config"
	"github.com/artpar/stevedore/internal/shell/history"
	"github.com/artpar/stevedore/internal/shell/orchestrator"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	readTimeout    = 10 * time.Second
	writeTimeout   = 30 * time.Second
	idleTimeout    = 60 * time.Second
	requestTimeout = 30 * time.Second

	// Requests per minute. Webhooks get a tighter budget than the
	// read-only endpoints.
	globalRateLimit  = 60
	webhookRateLimit = 6
)

var ErrSecretRequired = errors.New("webhook secret is required")

// Config holds the server's own settings.
type Config struct {
	Host string
	Port int

	// Secret is the shared HMAC secret GitHub signs payloads with.
	// Mandatory: an unsigned endpoint that deploys code is an open relay.
	Secret string
}

// Address returns the listen address in host:port form.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// =============================================================================
// Collaborator Seams
// =============================================================================

// Runner executes one deployment. Production passes the orchestrator; tests
// substitute a fake.
type Runner interface {
	Execute(ctx context.Context, params config.Params) (*orchestrator.Result, error)
}

// History is the slice of the run store the server reads and, for rejected
// hooks, writes.
type History interface {
	Append(ctx context.Context, rec *history.Record) error
	List(ctx context.Context, limit int) ([]history.Record, error)
	ListByApp(ctx context.Context, appName string, limit int) ([]history.Record, error)
}

// =============================================================================
// Server
// =============================================================================

// Server receives push events and redeploys the configured application.
type Server struct {
	cfg     Config
	params  config.Params
	appName string
	branch  string
	runner  Runner
	store   History
	logger  *slog.Logger

	deployMu sync.Mutex     // non-blocking deploy lock, see TryLock
	deployWg sync.WaitGroup // in-flight async deployments
}

// New creates a server that redeploys the application described by params
// whenever a matching push event arrives. store may be nil, disabling the
// runs endpoint and rejection records.
func New(cfg Config, params config.Params, runner Runner, store History, logger *slog.Logger) (*Server, error) {
	if cfg.Secret == "" {
		return nil, ErrSecretRequired
	}

	branch := params.Branch
	if branch == "" {
		branch = config.DefaultBranch
	}

	return &Server{
		cfg:     cfg,
		params:  params,
		appName: hookAppName(params),
		branch:  branch,
		runner:  runner,
		store:   store,
		logger:  logger.With("component", "server"),
	}, nil
}

// hookAppName derives the slug the webhook path must address, using the same
// derivation the collector applies later.
func hookAppName(params config.Params) string {
	if params.AppName != "" {
		return config.Slugify(params.AppName)
	}
	return config.DeriveAppName(params.RepoURL)
}

// AppName returns the slug the hook endpoint listens under.
func (s *Server) AppName() string {
	return s.appName
}

// Router assembles the HTTP routes and middleware.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(s.logRequests)
	r.Use(rateLimitByIP(globalRateLimit, time.Minute, s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/runs", s.handleRuns)

	r.With(rateLimitByIP(webhookRateLimit, time.Minute, s.logger)).
		Post("/hooks/{app}", s.handleHook)

	return r
}

// logRequests writes one line per request with status and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start serves until the context is cancelled, then shuts down gracefully,
// waiting for any in-flight deployment to finish. An interrupted deployment
// would leave the host in whatever state the current remote command left it.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.cfg.Address(), "app", s.appName, "branch", s.branch)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down, waiting for in-flight deployment")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown", "error", err)
	}
	s.deployWg.Wait()
	return nil
}

// WaitForDeployments blocks until every accepted deployment has finished.
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// tryLock acquires the deploy lock without blocking. The caller must call
// unlock iff it returns true.
func (s *Server) tryLock() bool {
	return s.deployMu.TryLock()
}

func (s *Server) unlock() {
	s.deployMu.Unlock()
}
