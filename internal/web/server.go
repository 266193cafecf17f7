package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/catastro-enricher/internal/metrics"
	"github.com/catastro-enricher/internal/web/handlers"
	"github.com/catastro-enricher/internal/web/middleware"
)

// Deps are the collaborators the server routes to
type Deps struct {
	Pipeline handlers.Pipeline
	Runs     handlers.RunLister // optional
	Log      *zap.Logger
	Metrics  *metrics.Metrics    // optional
	Gatherer prometheus.Gatherer // serves /metrics when set
}

// Server represents the web server
type Server struct {
	config     Config
	deps       Deps
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a new web server instance
func NewServer(config Config, deps Deps) *Server {
	s := &Server{config: config, deps: deps}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// no write deadline, a response is sent only once the whole run is done
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	uploadHandler := &handlers.UploadHandler{
		Pipeline:     s.deps.Pipeline,
		Log:          s.deps.Log,
		MaxUpload:    s.config.MaxUploadBytes(),
		MergeOptions: s.config.MergeOptions,
		YearOptions:  s.config.YearOptions,
	}
	apiHandler := &handlers.APIHandler{
		Runs:      s.deps.Runs,
		Log:       s.deps.Log,
		StartTime: time.Now(),
	}

	auth := middleware.Authentication(s.config.APIKey)
	protect := func(fn http.HandlerFunc) http.Handler { return auth(fn) }

	s.router.HandleFunc("/health", apiHandler.Health).Methods("GET")
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Upload form and processing routes
	s.router.HandleFunc("/", uploadHandler.Form).Methods("GET")
	s.router.Handle("/process", protect(uploadHandler.Process)).Methods("POST")
	s.router.Handle("/merge-geojson", protect(uploadHandler.MergeGeoJSON)).Methods("POST")
	s.router.Handle("/update-json", protect(uploadHandler.UpdateJSON)).Methods("POST")
	s.router.Handle("/runs", protect(apiHandler.ListRuns)).Methods("GET")

	s.router.Use(middleware.RequestLogging(s.deps.Log, s.deps.Metrics))
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.deps.Log.Info("Starting server", zap.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.deps.Log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.deps.Log.Info("Server stopped")
	return nil
}
