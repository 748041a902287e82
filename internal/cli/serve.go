package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/promptshield/internal/policy"
	"github.com/gzhole/promptshield/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the screening HTTP API",
	Long: `Start the HTTP API, the policy file watcher and the audit writer.
Shuts down gracefully on SIGINT or SIGTERM.

  promptshield serve --addr :8080`,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := cfg.EnsureDir(); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := newPipeline(cfg, logger, pipelineOptions{audit: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, p.shield, p.engine,
		server.WithCache(p.cache),
		server.WithRegistry(p.registry),
		server.WithLogger(logger.Named("http")),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	})

	if cfg.Policy.Watch && cfg.Policy.Path != "" {
		w, err := policy.NewWatcher(p.engine, cfg.Policy.Path, logger.Named("policy"))
		if err != nil {
			logger.Warn("policy hot reload disabled", zap.Error(err))
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	logger.Info("promptshield started",
		zap.String("version", Version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("cache", p.cache.BackendName()),
		zap.String("policy_state", string(p.engine.State())))

	return g.Wait()
}
