package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civsource/parisbudget/internal/dashboard"
	"github.com/civsource/parisbudget/internal/dataset"
)

var listenFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		listen := settings.ListenAddr
		if listenFlag != "" {
			listen = listenFlag
		}

		store := dataset.NewStore(settings.DataPath())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := store.Preload(ctx)
		if err != nil {
			return err
		}
		logger.Info("datasets preloaded",
			zap.Int("loaded", summary.Loaded),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", len(summary.Failed)),
			zap.Duration("elapsed", summary.Elapsed))
		for _, f := range summary.Failed {
			logger.Warn("fixture failed to load", zap.String("path", f.Path), zap.Error(f.Err))
		}

		svc := dashboard.NewService(store, settings, logger)

		watcher, err := dataset.NewWatcher(store, svc.MarkStale, logger)
		if err != nil {
			logger.Warn("data watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}

		if !verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		r := gin.New()
		r.Use(gin.Recovery())
		svc.RegisterRoutes(r)

		srv := &http.Server{
			Addr:         listen,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", zap.String("addr", listen))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "listen address (overrides settings)")
	rootCmd.AddCommand(serveCmd)
}
