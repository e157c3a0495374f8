package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jsenecal/FastPKI/api"
	"github.com/jsenecal/FastPKI/config"
	"github.com/jsenecal/FastPKI/metrics"
	"github.com/jsenecal/FastPKI/pki"
	"github.com/jsenecal/FastPKI/storage"
	bboltstorage "github.com/jsenecal/FastPKI/storage/bbolt"
	"github.com/jsenecal/FastPKI/storage/memory"
	postgresstorage "github.com/jsenecal/FastPKI/storage/postgres"
	sqlitestorage "github.com/jsenecal/FastPKI/storage/sqlite"
)

var configPath string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the certificate issuance server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger := newLogger(cfg.Logging)

		store, closeStore, err := openStore(cmd.Context(), cfg.Database)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer closeStore()

		engine := pki.New(store,
			pki.WithConfig(cfg.EngineConfig()),
			pki.WithLogger(logger),
		)
		a := api.New(engine, api.WithLogger(logger))

		registry := prometheus.NewRegistry()
		if err := registry.Register(metrics.NewInventoryCollector(store)); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("server started",
			"addr", cfg.Server.ListenAddr,
			"driver", cfg.Database.Driver)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(), func() error { return nil }, nil
	case "bbolt":
		s, err := bboltstorage.NewStoreFromFile(cfg.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "sqlite":
		s, err := sqlitestorage.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		s, err := postgresstorage.NewStoreFromDSN(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stderr
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
}
