// Package server exposes the optimizer over HTTP with gin. Optimization
// progress is streamed as Server-Sent Events; every other route is plain
// JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/application"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/optimizer"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// Optimizer runs one optimization and streams its progress to em.
type Optimizer interface {
	Run(ctx context.Context, req *optimizer.OptimizeRequest, em optimizer.Emitter) (*optimizer.Summary, error)
}

// Config wires a Server to the services behind its routes. Every field but
// Gatherer, Logger, ServiceName, AllowedOrigins, RefineModel and Heartbeat
// is required.
type Config struct {
	Optimizer   Optimizer
	Generator   ports.Generator
	Datasets    *application.DatasetService
	Experiments *application.ExperimentService
	Catalog     *application.ModelCatalog

	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// ServiceName labels HTTP spans.
	ServiceName string
	// AllowedOrigins lists browser origins allowed by CORS.
	AllowedOrigins []string
	// RefineModel is the model of the single-shot refine route.
	RefineModel string
	// JuryConcurrency bounds the single-shot jury route like the loop.
	JuryConcurrency int
	// Heartbeat is the keep-alive interval of progress streams.
	Heartbeat time.Duration
}

// Server is the HTTP transport.
type Server struct {
	cfg    Config
	logger *slog.Logger

	inference *optimizer.InferenceStage
	jury      *optimizer.JuryStage
	refiner   *optimizer.RefinementStage

	engine *gin.Engine
}

// New builds the router for cfg.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Optimizer == nil:
		return nil, errors.New("server: optimizer is required")
	case cfg.Generator == nil:
		return nil, errors.New("server: generator is required")
	case cfg.Datasets == nil || cfg.Experiments == nil:
		return nil, errors.New("server: dataset and experiment services are required")
	case cfg.Catalog == nil:
		return nil, errors.New("server: model catalog is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "promptprop"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}

	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger,
		inference: optimizer.NewInferenceStage(cfg.Generator),
		jury:      optimizer.NewJuryStage(cfg.Generator, cfg.JuryConcurrency),
		refiner:   optimizer.NewRefinementStage(cfg.Generator, cfg.RefineModel),
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.cfg.ServiceName))
	r.Use(s.requestLogger())
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors(s.cfg.AllowedOrigins))
	}

	r.GET("/health-check", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.POST("/optimize", s.handleOptimize)
		api.POST("/inference", s.handleInference)
		api.POST("/jury", s.handleJury)
		api.POST("/refine", s.handleRefine)

		api.POST("/dataset", s.handleUploadDataset)
		api.GET("/dataset/:id", s.handleDatasetStats)
		api.GET("/dataset/:id/:split", s.handleDatasetSplit)

		api.GET("/experiments", s.handleListExperiments)
		api.GET("/experiments/:id", s.handleGetExperiment)
		api.DELETE("/experiments/:id", s.handleDeleteExperiment)

		api.GET("/models", s.handleModels)
	}
	return r
}

// requestLogger logs one record per request after it completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// cors allows credentialed browser requests from the listed origins.
func cors(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && slices.Contains(origins, origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
