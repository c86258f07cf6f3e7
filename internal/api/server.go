package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/flowmeta/internal/archive"
	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/identity"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/metrics"
	"grimm.is/flowmeta/internal/scheduler"
)

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns secure default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second, // Slowloris prevention
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		ShutdownTimeout:   5 * time.Second,
	}
}

// FlowSource is the live flow table.
type FlowSource interface {
	Records() []flowtable.Record
	Get(ref flowtable.Reference) (flowtable.Record, bool)
	Size() int
}

// IdentitySource lists known identities.
type IdentitySource interface {
	All() []identity.Entry
}

// ArchiveSource reads archived flows.
type ArchiveSource interface {
	Recent(ctx context.Context, limit int) ([]archive.Flow, error)
	Count(ctx context.Context) (int64, error)
}

// TaskSource reports scheduler state.
type TaskSource interface {
	GetStatus() []scheduler.TaskStatus
}

// ServerOptions holds dependencies for the API server. Flows is required;
// endpoints for a nil optional source answer 404.
type ServerOptions struct {
	Flows      FlowSource
	Identities IdentitySource
	Archive    ArchiveSource
	Tasks      TaskSource
	Metrics    *metrics.Registry
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
	Clock    clock.Clock
	Logger   *logging.Logger
}

// Server handles API requests.
type Server struct {
	flows      FlowSource
	identities IdentitySource
	archive    ArchiveSource
	tasks      TaskSource
	metrics    *metrics.Registry
	gatherer   prometheus.Gatherer
	clock      clock.Clock
	logger     *logging.Logger
	startTime  time.Time

	router *mux.Router
}

// NewServer creates a new API server with the provided options
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Flows == nil {
		return nil, errors.New("api: flow source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	clk := clock.OrReal(opts.Clock)

	s := &Server{
		flows:      opts.Flows,
		identities: opts.Identities,
		archive:    opts.Archive,
		tasks:      opts.Tasks,
		metrics:    opts.Metrics,
		gatherer:   gatherer,
		clock:      clk,
		logger:     logger.WithComponent("api"),
		startTime:  clk.Now(),
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/flows", s.handleFlows).Methods(http.MethodGet)
	api.HandleFunc("/flows/size", s.handleFlowsSize).Methods(http.MethodGet)
	api.HandleFunc("/flows/{ref:[0-9]+}", s.handleFlow).Methods(http.MethodGet)
	api.HandleFunc("/identities", s.handleIdentities).Methods(http.MethodGet)
	api.HandleFunc("/archive", s.handleArchive).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleTasks).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "not found", r.URL.Path)
	})
	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the server on l until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	cfg := DefaultServerConfig()
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", l.Addr().String())
		errCh <- server.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}
