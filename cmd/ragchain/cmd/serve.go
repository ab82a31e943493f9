package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/server"
	"github.com/hyperjump/ragchain/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP API and watch the configured directories.

Examples:
  ragchain serve
  ragchain serve --config ./config.yaml --debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, resolvedConfigPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath), zap.Bool("debug", debug || cfg.Debug))

	c, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(c.Pipeline, cfg.Watch.Directories, cfg.Watch.RecursiveOrDefault(), watcher.WithLogger(logger))
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	go func() {
		if _, err := w.Sync(ctx); err != nil {
			logger.Warn("initial sync incomplete", zap.Error(err))
		}
	}()

	opts := []server.Option{
		server.WithPipeline(c.Pipeline),
		server.WithWatch(w, resolvedConfigPath),
	}
	if c.Vector != nil {
		opts = append(opts, server.WithVectorIndex(c.Vector))
	}
	if c.Reranker != nil {
		opts = append(opts, server.WithReranker(c.Reranker))
	}
	srv := server.NewServer(c.Retrieval, c.Store, cfg, logger, opts...)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
