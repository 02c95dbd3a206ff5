// Package api provides the HTTP API over a derived indicator panel.
//
// It exposes the panel, rankings, entity drill-downs, sector summaries and
// the reconciliation list as JSON, the ranking and company pages as HTML,
// and pushes panel reload events over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/cvmratios/internal/config"
	"github.com/seenimoa/cvmratios/internal/infra"
	"github.com/seenimoa/cvmratios/internal/pipeline"
	"github.com/seenimoa/cvmratios/pkg/models"
	"github.com/seenimoa/cvmratios/web"
)

// Version is reported by /health. The CLI sets it from its build info.
var Version = "dev"

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	logger  *slog.Logger
	cache   *infra.Cache
	limiter *infra.RateLimiter
	wsHub   *WSHub
	builder *pipeline.Builder // nil when the panel cannot be reloaded

	mu    sync.RWMutex
	state *pipeline.Result
	gen   uint64 // bumped on every reload; part of every cache key
}

// Option configures a Server.
type Option func(*Server)

// WithBuilder enables reloads through b.
func WithBuilder(b *pipeline.Builder) Option {
	return func(s *Server) { s.builder = b }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a configured API server serving res.
func NewServer(cfg *config.Config, res *pipeline.Result, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  slog.Default(),
		cache:   infra.NewCache(cfg.CacheTTL()),
		limiter: infra.PerSecond(cfg.API.RateLimit),
		wsHub:   NewWSHub(),
		state:   res,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Panel returns the panel currently served.
func (s *Server) Panel() *models.DerivedPanel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil
	}
	return s.state.Panel
}

func (s *Server) snapshot() (*pipeline.Result, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.gen
}

// SetResult swaps the served panel, drops cached query results and tells
// WebSocket clients about it.
func (s *Server) SetResult(res *pipeline.Result) {
	s.mu.Lock()
	s.state = res
	s.gen++
	s.mu.Unlock()
	s.cache.Flush()

	s.wsHub.Broadcast(WSMessage{Type: EventReloaded, Data: newReloadEvent(res)})
	s.logger.Info("api: panel swapped",
		"source", res.Source,
		"records", res.Panel.Summary.Records,
		"rules", res.Panel.Rules,
	)
}

// ErrReloadDisabled is returned by Reload on a server built without a builder.
var ErrReloadDisabled = errors.New("reload not available: server has no input source")

// Reload rebuilds the panel from the configured source. On failure the
// current panel stays in place and clients receive a reload_failed event.
func (s *Server) Reload(ctx context.Context) error {
	if s.builder == nil {
		return ErrReloadDisabled
	}
	res, err := s.builder.Build(ctx)
	if err != nil {
		s.logger.Error("api: reload failed, keeping current panel", "err", err)
		s.wsHub.Broadcast(WSMessage{Type: EventReloadFailed, Data: map[string]string{"error": err.Error()}})
		return err
	}
	s.SetResult(res)
	return nil
}

// ListenAndServe starts the HTTP server, the WebSocket hub and any
// configured reload triggers, and shuts down gracefully when ctx is done
// or the process is interrupted.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.wsHub.Run(ctx)

	if s.builder != nil {
		if s.cfg.API.Watch {
			files := s.builder.Source().LocalFiles()
			go func() {
				if err := s.watch(ctx, files); err != nil {
					s.logger.Error("api: file watch stopped", "err", err)
				}
			}()
		}
		if spec := s.cfg.API.Refresh; spec != "" {
			c, err := s.schedule(ctx, spec)
			if err != nil {
				return err
			}
			defer c.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api: listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health", s.handleHealth)

			// Panel
			r.Get("/summary", s.handleSummary)
			r.Get("/panel", s.handlePanel)
			r.Get("/metrics", s.handleMetrics)
			r.Post("/reload", s.handleReload)

			// Rankings and drill-down
			r.Get("/rank/{metric}", s.handleRank)
			r.Get("/entities/{ticker}", s.handleEntity)
			r.Get("/sectors/{year}", s.handleSectors)
			r.Get("/reconciliation", s.handleReconciliation)

			// Configuration
			r.Get("/config", s.handleGetConfig)
			r.Get("/config/secrets", s.handleGetSecrets)
		})

		// Rendered reports
		r.Route("/report", func(r chi.Router) {
			r.Get("/rank/{metric}", s.handleRankReport)
			r.Get("/company/{ticker}", s.handleCompanyReport)
			r.Get("/methodology", s.handleMethodology)
		})
	})

	// WebSocket
	r.Get("/api/v1/ws", s.handleWebSocket)

	// Dashboard
	r.Handle("/*", http.FileServerFS(web.DistFS()))

	return r
}

// rateLimit rejects requests beyond the configured rate with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ============================================================
// Helpers
// ============================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: failed to write JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

func writeHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(page)) //nolint:errcheck
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

// cached serves key from the query cache, computing it on a miss. Keys are
// scoped to the panel generation so a reload never serves stale results.
func (s *Server) cached(key string, gen uint64, compute func() (any, error)) (any, error) {
	return s.cache.GetOrCompute(fmt.Sprintf("%d|%s", gen, key), compute)
}
