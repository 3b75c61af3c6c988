package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/llm"
	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/middleware"
	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/store"
	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/telemetry"
	"github.com/Mehul-Gupta-SMH/PromptProp/infrastructure/tracking"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/application"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/optimizer"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

// app holds every long-lived dependency of a command.
type app struct {
	cfg      *application.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	router   *llm.Router
	store    *store.Store
	loop     *optimizer.Loop
	catalog  *application.ModelCatalog

	closers []func(context.Context) error
}

// newApp wires the dependencies described by cfg. Spans of the stdout
// exporter go to traceOut.
func newApp(cfg *application.Config, logger *slog.Logger, traceOut io.Writer) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdown, err := telemetry.Setup(cfg.Telemetry, traceOut)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	metrics := middleware.NewPrometheusMetrics(a.registry)
	a.router, err = llm.NewRouter(llm.RouterConfig{
		Providers:         cfg.LLM.Providers(),
		APIKeys:           cfg.LLM.APIKeys,
		DefaultTimeout:    cfg.LLM.Timeout,
		DefaultMiddleware: llmMiddleware(cfg, metrics),
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm router: %w", err)
	}

	a.store, err = store.Open(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	tracker, closeTracker, err := newTracker(cfg.Tracking, a.registry, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { closeTracker(); return nil })

	a.loop, err = optimizer.NewLoop(optimizer.LoopConfig{
		Generator:       a.router,
		Store:           a.store,
		Tracker:         tracker,
		Metrics:         metrics,
		Logger:          logger,
		JuryConcurrency: cfg.Optimizer.JuryConcurrency,
		RefineModel:     cfg.Optimizer.RefineModel,
	})
	if err != nil {
		return nil, err
	}

	a.catalog = application.NewModelCatalog(a.router, cfg.Optimizer.CatalogTTL, logger)
	return a, nil
}

// llmMiddleware orders the provider middleware from outermost to innermost.
// The timeout sits inside the retry so each attempt gets its own deadline.
func llmMiddleware(cfg *application.Config, metrics *middleware.PrometheusMetrics) []llm.Middleware {
	mw := []llm.Middleware{
		llm.TracingMiddleware(cfg.Telemetry.ServiceName),
		llm.MetricsMiddleware(metrics),
		llm.CircuitBreakerMiddlewareWithMetrics(cfg.LLM.BreakerFailures, cfg.LLM.BreakerCooldown, metrics.CircuitBreaker()),
	}
	if cfg.LLM.RateLimit > 0 {
		mw = append(mw, llm.RateLimitMiddleware(rate.Limit(cfg.LLM.RateLimit), max(cfg.LLM.RateLimitBurst, 1)))
	}
	if cfg.LLM.MaxRetries > 0 {
		mw = append(mw, llm.RetryMiddleware(cfg.LLM.MaxRetries, cfg.LLM.RetryBaseDelay, cfg.LLM.RetryMaxDelay))
	}
	return append(mw, llm.TimeoutMiddleware(cfg.LLM.Timeout))
}

// newTracker builds the experiment-tracking sink. Disabled tracking yields
// tracking.Noop, which records nothing and reports no run ids.
func newTracker(cfg application.TrackingConfig, reg prometheus.Registerer, logger *slog.Logger) (ports.Tracker, func(), error) {
	if !cfg.Enabled || len(cfg.Backends) == 0 {
		return tracking.Noop{}, func() {}, nil
	}

	var (
		sinks   []ports.Tracker
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, backend := range cfg.Backends {
		switch backend {
		case tracking.BackendInflux:
			t, err := tracking.NewInflux(cfg.Influx, logger)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("creating influx tracker: %w", err)
			}
			sinks = append(sinks, t)
			closers = append(closers, t.Close)
		case tracking.BackendPrometheus:
			sinks = append(sinks, tracking.NewPrometheus(reg))
		case tracking.BackendLog:
			sinks = append(sinks, tracking.NewLog(logger))
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown tracking backend %q", backend)
		}
	}

	if len(sinks) == 1 {
		return sinks[0], closeAll, nil
	}
	return tracking.NewMulti(sinks...), closeAll, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
