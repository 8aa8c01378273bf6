package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthd/hearth/pkg/bridge"
	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/contextgraph"
	"github.com/hearthd/hearth/pkg/events"
	"github.com/hearthd/hearth/pkg/health"
	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/registry"
)

// Server is the suite's REST surface. It binds the loopback interface by
// default and authenticates everything except liveness and metrics.
type Server struct {
	cfg      *config.Store
	registry *registry.Registry
	monitor  *health.Monitor
	builder  *contextgraph.Builder
	bridge   *bridge.Bridge
	bus      *events.Bus

	authToken string
	version   string
	bootID    string
	startedAt time.Time

	// shutdown asks the supervisor to stop; wired at boot.
	shutdown func()

	httpServer *http.Server
}

// Deps carries everything the surface serves.
type Deps struct {
	Config    *config.Store
	Registry  *registry.Registry
	Monitor   *health.Monitor
	Builder   *contextgraph.Builder
	Bridge    *bridge.Bridge
	Bus       *events.Bus
	AuthToken string
	Version   string
	Shutdown  func()
}

// NewServer creates the surface.
func NewServer(deps Deps) *Server {
	return &Server{
		cfg:       deps.Config,
		registry:  deps.Registry,
		monitor:   deps.Monitor,
		builder:   deps.Builder,
		bridge:    deps.Bridge,
		bus:       deps.Bus,
		authToken: deps.AuthToken,
		version:   deps.Version,
		bootID:    uuid.NewString(),
		startedAt: time.Now().UTC(),
		shutdown:  deps.Shutdown,
	}
}

// Router assembles the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// Liveness and scraping stay unauthenticated; everything else needs
	// the suite token.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/health/full", s.handleHealthFull)
		r.Get("/health/{module_id}", s.handleModuleHealth)
		r.Get("/context/preview", s.handleContextPreview)
		r.Post("/sync/now", s.handleSyncNow)
		r.Get("/modules", s.handleModules)
		r.Get("/events/recent", s.handleRecentEvents)
		r.Post("/shutdown", s.handleShutdown)
	})
	return r
}

// Start opens the listener. It returns once the server stops serving.
func (s *Server) Start() error {
	host := "127.0.0.1"
	if !s.cfg.GetBool(config.KeyBindLocalhostOnly, true) {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, s.cfg.GetInt(config.KeyHTTPPort, 5000))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("http surface open")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
