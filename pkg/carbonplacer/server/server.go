package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/carbon"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/clock"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/config"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/optimizer"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/workload"
)

// Version is reported by the health endpoint.
var Version = "dev"

const (
	maxForecastHours = 48
	maxUploadBytes   = 10 << 20
	shutdownTimeout  = 10 * time.Second
)

// Server exposes the optimizer over HTTP.
type Server struct {
	optimizer *optimizer.Optimizer
	provider  carbon.Provider
	simulator *workload.Simulator
	clock     clock.Clock
	gatherer  prometheus.Gatherer
}

// Option configures a Server
type Option func(*Server)

// WithClock sets the clock used for timestamps and default arrival times.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithGatherer serves the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithSimulator replaces the default unseeded simulator.
func WithSimulator(sim *workload.Simulator) Option {
	return func(s *Server) {
		s.simulator = sim
	}
}

// New creates a server. provider should be the one the optimizer reads from.
func New(opt *optimizer.Optimizer, provider carbon.Provider, opts ...Option) *Server {
	s := &Server{
		optimizer: opt,
		provider:  provider,
		clock:     clock.RealClock{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.simulator == nil {
		s.simulator = workload.NewSimulator(0)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/algorithms", s.handleAlgorithms).Methods(http.MethodGet)
	api.HandleFunc("/optimize", s.handleOptimize).Methods(http.MethodPost)
	api.HandleFunc("/compare", s.handleCompare).Methods(http.MethodPost)
	api.HandleFunc("/carbon-intensity", s.handleCarbonIntensity).Methods(http.MethodGet)
	api.HandleFunc("/carbon-intensity/forecast", s.handleForecast).Methods(http.MethodGet)
	api.HandleFunc("/datacenters", s.handleDatacenters).Methods(http.MethodGet)
	api.HandleFunc("/datacenters/{id}", s.handleDatacenter).Methods(http.MethodGet)
	api.HandleFunc("/simulate", s.handleSimulate).Methods(http.MethodPost)
	api.HandleFunc("/upload/parse", s.handleUploadParse).Methods(http.MethodPost)
	api.HandleFunc("/upload/template/{format}", s.handleTemplate).Methods(http.MethodGet)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "endpoint not found")
	})
	return r
}

// Handler is the router wrapped for cross-origin browser access.
func (s *Server) Handler() http.Handler {
	return CORSMiddleware(s.Router())
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		klog.InfoS("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	klog.InfoS("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
