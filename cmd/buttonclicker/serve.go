package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcourtman/buttonclicker/internal/api"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/rcourtman/buttonclicker/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveUser string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciler with the HTTP API and WebSocket stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveUser, "user", "sandbox-user", "signed-in sandbox user")
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig("buttonclicker")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The hub needs the reconciler for snapshots and the reconciler needs the
	// hub as its listener; the getter closes over a to break the cycle.
	var a *app
	hub := websocket.NewHub(func(ctx context.Context) (entitlements.Record, error) {
		return a.rec.Snapshot(ctx)
	})
	a, err = newApp(ctx, cfg, serveUser, hub)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release resources")
		}
	}()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Options{
			Reconciler: a.rec,
			WebSocket:  http.HandlerFunc(hub.HandleWebSocket),
			Clients:    hub,
			Version:    Version,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("version", Version).
		Str("store", cfg.StoreBackend).
		Str("user", serveUser).
		Msg("Starting ButtonClicker reconciler")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		err := a.rec.Run(gctx, a.backend.Events())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return serveMetrics(gctx, cfg.MetricsAddr)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		return nil
	})

	a.backend.Announce()

	err = g.Wait()
	log.Info().Msg("Server stopped")
	return err
}
