package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dgnsrekt/swcache/internal/config"
	"github.com/dgnsrekt/swcache/internal/telemetry"
	"github.com/dgnsrekt/swcache/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache worker in front of an origin",
	Long: paragraph(fmt.Sprintf("\n%s the app shell, purge old caches and serve requests through the worker. "+
		"Editing the config file ships a new worker version without a restart.", keyword("Precache"))),
	Example: paragraph("swcache serve --upstream http://127.0.0.1:3000\nswcache serve --root ./public --listen :8080"),
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringP("listen", "l", "localhost:8080", "address to listen on (see allow_cross_origin before exposing it)")
	serveCmd.Flags().Bool("watch", true, "reload the worker when the config file changes")
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fetcher, err := cfg.Fetcher()
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "swcache",
		ServiceVersion: Version,
		Endpoint:       environ.OTelEndpoint,
		Disabled:       !environ.TelemetryEnabled(),
	})
	if err != nil {
		return fmt.Errorf("unable to set up tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	storage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			log.Error("Could not close cache storage", "err", err)
		}
	}()

	reg := worker.NewRegistration(storage, fetcher)
	if _, err := reg.Register(ctx, cfg.Worker()); err != nil {
		return fmt.Errorf("unable to register worker: %w", err)
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch && configPath() != "" {
		if err := watchConfig(ctx, reg, cfg); err != nil {
			log.Warn("Config reload disabled", "err", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           otelhttp.NewHandler(reg, "swcache"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Serving", "addr", cfg.Listen, "origin", cfg.Origin, "backend", cfg.Cache.Backend)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Could not shut down server", "err", err)
	}
	if err := reg.Close(shutdownCtx); err != nil {
		log.Error("Pending cache writes lost", "err", err)
	}
	return nil
}

// watchConfig installs a new worker version whenever the cache names or
// the manifest in the config file change.
func watchConfig(ctx context.Context, reg *worker.Registration, current *config.Config) error {
	w, err := config.NewWatcher(configPath())
	if err != nil {
		return err
	}

	go func() {
		err := w.Run(ctx, func() {
			if err := viper.ReadInConfig(); err != nil {
				log.Error("Could not reload configuration file", "err", err)
				return
			}
			next, err := loadConfig()
			if err != nil {
				log.Error("Ignoring invalid configuration", "err", err)
				return
			}
			if next.SameVersion(current) {
				log.Debug("Configuration changed, worker version unchanged")
				return
			}

			log.Info("Updating worker", "static", next.StaticCache, "dynamic", next.DynamicCache)
			if _, err := reg.Update(ctx, next.Worker()); err != nil {
				log.Error("Worker update failed", "err", err)
				return
			}
			current = next
		})
		if err != nil {
			log.Error("Config watcher stopped", "err", err)
		}
	}()
	return nil
}
