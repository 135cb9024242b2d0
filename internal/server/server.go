// Package server provides the HTTP status and introspection surface:
// health, system status, ingestion counters, the order log and agent
// run snapshots. No business operations are exposed beyond a manual
// pipeline trigger.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/database"
	"github.com/hoangvu/vnquant/internal/events"
	"github.com/hoangvu/vnquant/internal/modules/agents"
	"github.com/hoangvu/vnquant/internal/modules/ingestion"
	"github.com/hoangvu/vnquant/internal/modules/trading"
	"github.com/hoangvu/vnquant/internal/resilience"
)

// PipelineTrigger starts one agent pipeline run and returns its run ID.
type PipelineTrigger interface {
	TriggerRun(ctx context.Context) (string, error)
}

// Config holds server configuration.
type Config struct {
	Log         zerolog.Logger
	Port        int
	CORSOrigins []string

	TradingDB *database.DB
	MarketDB  *database.DB

	Pipeline *ingestion.Pipeline
	Orders   *trading.OrderRepository
	Runs     *agents.SnapshotRepository
	Breakers []*resilience.CircuitBreaker
	Trigger  PipelineTrigger
	Bus      *events.Bus

	// Rate-limit tiers. GeneralTier covers all /api routes; TriggerTier
	// covers the endpoints that can place orders. Zero values disable
	// the tier.
	GeneralTier resilience.TierConfig
	TriggerTier resilience.TierConfig
}

// Server is the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	handlers *Handlers
	monitor  *ActivityMonitor

	generalLimiter *resilience.ClientLimiter
	triggerLimiter *resilience.ClientLimiter
}

// New creates the server and wires routes and middleware.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.monitor = NewActivityMonitor(cfg.Bus, cfg.Log)
	s.handlers = NewHandlers(cfg, s.monitor, cfg.Log)

	if cfg.GeneralTier.PerSecond > 0 {
		s.generalLimiter = resilience.NewClientLimiter(cfg.GeneralTier, 10*time.Minute)
	}
	if cfg.TriggerTier.PerSecond > 0 {
		s.triggerLimiter = resilience.NewClientLimiter(cfg.TriggerTier, 10*time.Minute)
	}

	s.setupMiddleware(cfg.CORSOrigins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	// Health stays outside the rate limiter so a flooded client cannot
	// hide a dying process from the load balancer.
	s.router.Get("/api/health", s.handlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit(s.generalLimiter))

		r.Get("/status", s.handlers.HandleStatus)
		r.Get("/ingestion", s.handlers.HandleIngestion)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/open", s.handlers.HandleOpenOrders)
			r.Get("/{symbol}", s.handlers.HandleOrdersBySymbol)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handlers.HandleRecentRuns)
			r.Get("/{runID}", s.handlers.HandleRun)
			r.With(s.rateLimit(s.triggerLimiter)).Post("/trigger", s.handlers.HandleTriggerRun)
		})
	})
}

// rateLimit applies one limiter tier. A nil limiter disables the tier.
func (s *Server) rateLimit(limiter *resilience.ClientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := resilience.ResolveClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"))
			ok, retryAfter := limiter.Allow(clientIP)
			if !ok {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				s.log.Warn().Str("client", clientIP).Str("path", r.URL.Path).Msg("Request rate limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Start begins serving. It blocks until the listener fails or the
// server is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
