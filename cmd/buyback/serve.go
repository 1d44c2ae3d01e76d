package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/buyback-engine/api"
	"github.com/warp/buyback-engine/config"
	"github.com/warp/buyback-engine/store"
	"github.com/warp/buyback-engine/store/postgres"
	"github.com/warp/buyback-engine/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

var (
	servePort     int
	serveScenario string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pricing API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, closeStore, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				zap.L().Warn("close store", zap.Error(err))
			}
		}()

		handler := api.NewHandler(st)
		handler.Timezone = cfg.Pricing.Timezone
		handler.BatchConcurrency = cfg.Pricing.BatchConcurrency

		if serveScenario != "" {
			if err := handler.LoadScenarioByID(ctx, serveScenario); err != nil {
				return eris.Wrapf(err, "load scenario %s", serveScenario)
			}
		} else if err := handler.LoadPolicies(ctx); err != nil {
			zap.L().Warn("failed to load policies", zap.Error(err))
		}

		refresher := api.NewCacheRefresher(handler, cfg.Cache.RefreshInterval)
		refresher.Start()
		defer refresher.Stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.Server.CORSOrigins}),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server forced to shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("server stopped")
		return nil
	},
}

// openStore opens the configured policy store. The returned func releases it.
func openStore(ctx context.Context, sc config.StoreConfig) (store.PolicyStore, func() error, error) {
	switch sc.Driver {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil

	case "sqlite":
		st, err := sqlite.New(sc.DatabaseURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open sqlite store")
		}
		return st, st.Close, nil

	case "postgres":
		st, err := postgres.New(ctx, sc.DatabaseURL, &sc.Pool)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open postgres store")
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, eris.Wrap(err, "migrate postgres store")
		}
		return st, st.Close, nil

	default:
		return nil, nil, eris.Errorf("unknown store driver %q", sc.Driver)
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveScenario, "scenario", "", "demo scenario to load on startup (replaces stored policies)")
	rootCmd.AddCommand(serveCmd)
}
