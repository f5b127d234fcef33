package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/radiusdt/leadgen-analytics/internal/httpserver"
	"github.com/radiusdt/leadgen-analytics/internal/realtime"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("starting leadgen",
		zap.String("env", a.cfg.Server.Env),
		zap.String("addr", a.cfg.Server.Addr),
		zap.Bool("postgres", a.db != nil),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("clickhouse", a.ch != nil),
	)

	srv := &http.Server{
		Addr:        a.cfg.Server.Addr,
		Handler:     httpserver.NewServer(a.handler()),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero so admin event streams are not cut off.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		// Closing the hub ends open event streams so Shutdown can finish.
		a.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.analytics.Watch(gctx, a.hub)
	})

	if a.cfg.RateLimit.Enabled {
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.RateLimit.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					a.limiter.CleanupIPLimiters()
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	if a.db != nil {
		if a.cfg.Database.Listen {
			listener := realtime.NewPGListener(a.db.Pool, a.hub, a.logger)
			g.Go(func() error { return listener.Run(gctx) })
		}
		g.Go(func() error { return a.db.ReportStats(gctx, a.metrics, 15*time.Second) })
	}

	if a.cfg.Meta.AutoSync {
		g.Go(func() error { return a.sync.RunAutoSync(gctx, a.cfg.Meta.AutoSyncInterval) })
	}

	err = g.Wait()
	a.logger.Info("server stopped")
	return err
}
