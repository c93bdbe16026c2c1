package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/labelscan/internal/api"
	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/kdimtricp/labelscan/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API; the browser pushes camera frames to it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		frames := camera.NewPushSource(cfg.Server.FrameMaxAge)
		svc := session.NewService(c.recognizer, frames, nil, c.exporter, sessionConfig(cfg))
		defer svc.Close()

		app := &api.App{
			Session:       svc,
			Frames:        frames,
			Storage:       c.storage,
			Exports:       c.ledger,
			MaxUploadSize: cfg.Server.MaxUploadSize,
		}

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.NewRouter(app),
			ReadHeaderTimeout: 10 * time.Second,
		}
		// closing the session ends the open event streams
		server.RegisterOnShutdown(func() { svc.Close() })

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Activate(ctx); err != nil {
			logging.Log.Warnf("scanning not started: %v", err)
		}

		errCh := make(chan error, 1)
		go func() {
			logging.Log.Infof("Server starting on %s", cfg.Server.Addr)
			logging.Log.Infof("Export directory: %s", cfg.Export.Dir)
			logging.Log.Infof("Export ledger: %s", cfg.Database.Path)
			logging.Log.Infof("OCR provider: %s", cfg.OCR.Provider)
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			logging.Log.Infof("Shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}
