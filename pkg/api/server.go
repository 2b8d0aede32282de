package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/graphmill/graphmill/pkg/build"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/metrics"
	"github.com/graphmill/graphmill/pkg/storage"
	"github.com/graphmill/graphmill/pkg/types"
)

// StateReader exposes the state store to the read endpoints
type StateReader interface {
	GetStateAndTask(ctx context.Context) (types.KGState, *types.TaskInfo, error)
}

// GraphReader exposes the graph store to the read endpoints
type GraphReader interface {
	GetEntityTypes(ctx context.Context, version string) ([]string, error)
	GetRelationTypes(ctx context.Context, version string) ([]string, error)
	GetStats(ctx context.Context, version string) (types.GraphStats, error)
	Query(ctx context.Context, version string, opts storage.QueryOptions) ([]types.QueryNode, []types.QueryEdge, bool, error)
}

// Trigger starts build tasks
type Trigger interface {
	TriggerFullBuild(ctx context.Context) (*build.TriggerResult, error)
	TriggerIncrementalUpdate(ctx context.Context, baseVersion string) (*build.TriggerResult, error)
}

// Server is the HTTP API server
type Server struct {
	cfg    *config.Config
	state  StateReader
	graphs GraphReader
	builds Trigger
	http   *http.Server
}

// NewServer creates the API server with its routes and middleware
func NewServer(cfg *config.Config, state StateReader, graphs GraphReader, builds Trigger) *Server {
	s := &Server{cfg: cfg, state: state, graphs: graphs, builds: builds}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	r.Use(newClientLimiter(cfg.Server.RateLimit).middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/kg", func(r chi.Router) {
		r.Use(bearerAuth(cfg.Server.APIKey))
		r.Get("/status", s.handleStatus)
		r.Post("/build/full", s.handleBuildFull)
		r.Post("/update/incremental", s.handleUpdateIncremental)
		r.Get("/types/entities", s.handleEntityTypes)
		r.Get("/types/relations", s.handleRelationTypes)
		r.Get("/query", s.handleQuery)
		r.Get("/stats", s.handleStats)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves HTTP until Shutdown or a listener error
func (s *Server) Start() error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", s.http.Addr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the underlying handler for tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
