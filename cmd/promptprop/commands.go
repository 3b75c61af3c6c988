package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/application"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/logging"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/optimizer"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/server"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	cfg        *application.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "promptprop",
		Short:         "Iteratively optimize prompts against a labeled dataset and an LLM jury",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := application.LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(c.serveCmd(), c.optimizeCmd(), c.modelsCmd())
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if c.cfg.Server.Mode != "" {
				gin.SetMode(c.cfg.Server.Mode)
			}

			a, err := newApp(c.cfg, c.logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.WithoutCancel(ctx)); err != nil {
					c.logger.Error("shutdown failed", "error", err)
				}
			}()

			srv, err := server.New(server.Config{
				Optimizer:       a.loop,
				Generator:       a.router,
				Datasets:        application.NewDatasetService(a.store, nil),
				Experiments:     application.NewExperimentService(a.store),
				Catalog:         a.catalog,
				Gatherer:        a.registry,
				Logger:          c.logger,
				ServiceName:     c.cfg.Telemetry.ServiceName,
				AllowedOrigins:  c.cfg.Server.AllowedOrigins,
				RefineModel:     c.cfg.Optimizer.RefineModel,
				JuryConcurrency: c.cfg.Optimizer.JuryConcurrency,
			})
			if err != nil {
				return err
			}

			c.logger.Info("starting promptprop",
				"addr", c.cfg.Server.Addr(),
				"store", storeLabel(c.cfg),
				"providers", a.router.ConfiguredProviders(),
				"tracking", c.cfg.Tracking.Enabled)
			return srv.ListenAndServe(ctx, c.cfg.Server.Addr(), c.cfg.Server.ShutdownTimeout)
		},
	}
}

func (c *cli) optimizeCmd() *cobra.Command {
	var requestPath string

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run one optimization and print its progress events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readRequest(requestPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if _, err := req.Options(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(c.cfg, c.logger, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			summary, err := a.loop.Run(ctx, req, optimizer.NewJSONLinesEmitter(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			c.logger.Info("optimization finished",
				"experiment_id", summary.ExperimentID,
				"iterations", summary.TotalIterations,
				"final_score", summary.FinalScore,
				"converged", summary.Converged)
			return nil
		},
	}
	cmd.Flags().StringVarP(&requestPath, "request", "r", "-", "optimize request JSON file, or - for stdin")
	return cmd
}

func (c *cli) modelsCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models of every configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(c.cfg, c.logger, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

			catalog, err := a.catalog.Models(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalog)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the model cache")
	return cmd
}

func readRequest(path string, stdin io.Reader) (*optimizer.OptimizeRequest, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening request: %w", err)
		}
		defer f.Close()
		r = f
	}

	var req optimizer.OptimizeRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return &req, nil
}

func storeLabel(cfg *application.Config) string {
	if cfg.Store.InMemory {
		return "memory"
	}
	return cfg.Store.Path
}
