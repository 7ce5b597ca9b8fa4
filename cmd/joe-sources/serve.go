package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joestump/joe-sources/internal/api"
	"github.com/joestump/joe-sources/internal/auth"
	"github.com/joestump/joe-sources/internal/build"
	"github.com/joestump/joe-sources/internal/config"
	"github.com/joestump/joe-sources/internal/datasource"
	"github.com/joestump/joe-sources/internal/db"
	"github.com/joestump/joe-sources/internal/federation"
	"github.com/joestump/joe-sources/internal/logging"
	"github.com/joestump/joe-sources/internal/store"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			database, err := db.New(cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if err := db.Migrate(database, cfg.DB.Driver); err != nil {
				return err
			}

			sourceStore := store.NewSourceStore(database)
			tokenStore := auth.NewSQLTokenStore(database)

			manager := datasource.NewManager(sourceStore,
				datasource.WithPolicy(cfg.Pool),
				datasource.WithLogger(log.Named("datasource")))
			defer func() {
				if err := manager.Close(); err != nil {
					log.Warn("close pools", zap.Error(err))
				}
			}()

			engine := federation.NewEngine(manager,
				federation.WithMaxRows(cfg.Federation.MaxRows),
				federation.WithLogger(log.Named("federation")))

			router := chi.NewRouter()
			router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			router.Handle("/metrics", promhttp.Handler())
			router.Mount("/api/v1", api.NewAPIRouter(api.Deps{
				BearerAuth: auth.NewBearerTokenMiddleware(tokenStore, log.Named("auth")),
				Sources:    sourceStore,
				Tokens:     tokenStore,
				Manager:    manager,
				Engine:     engine,
				Logger:     log.Named("api"),
			}))

			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening",
					zap.String("addr", cfg.HTTP.Addr), zap.String("version", build.Version))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
