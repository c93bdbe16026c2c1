package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/export"
	"github.com/kdimtricp/labelscan/internal/history"
	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/kdimtricp/labelscan/internal/session"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan from a local capture device through ffmpeg and export the batch on exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		duration, _ := cmd.Flags().GetDuration("duration")
		noExport, _ := cmd.Flags().GetBool("no-export")

		c, err := buildComponents(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		source := camera.NewFFmpegSource(cfg.FFmpegConfig())
		svc := session.NewService(c.recognizer, source, nil, c.exporter, sessionConfig(cfg))
		defer svc.Close()

		updates, unsubscribe := svc.Subscribe()
		defer unsubscribe()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		if err := svc.Activate(ctx); err != nil {
			return fmt.Errorf("starting camera %s: %w", cfg.Camera.Device, err)
		}
		logging.Log.Infof("Scanning from %s, press Ctrl+C to finish the batch", cfg.Camera.Device)

	loop:
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					break loop
				}
				printUpdate(u)
				if u.Type == session.UpdateScanning && u.Status.Fatal != "" {
					logging.Log.Errorf("Camera stopped: %s", u.Status.Fatal)
					break loop
				}
			case <-ctx.Done():
				break loop
			}
		}

		if err := svc.Deactivate(); err != nil {
			logging.Log.Warnf("stopping camera: %v", err)
		}
		svc.Wait()

		items := svc.Items()
		logging.Log.Infof("Batch finished with %d record(s)", len(items))
		if noExport {
			return nil
		}

		batch, err := svc.Export(context.Background())
		if errors.Is(err, export.ErrNothingToExport) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d row(s) to %s (%s)\n", batch.Rows, batch.Name, batch.Delivered)
		return nil
	},
}

func printUpdate(u session.Update) {
	switch u.Type {
	case session.UpdateNotice:
		switch u.Notice.Level {
		case history.LevelError:
			logging.Log.Error(u.Notice.Message)
		case history.LevelWarning:
			logging.Log.Warn(u.Notice.Message)
		default:
			logging.Log.Info(u.Notice.Message)
		}
	case session.UpdateRecord:
		r := u.Record
		fmt.Printf("%s  %-20s  %3.0f%%  %s\n", r.Time, r.SN, r.Confidence*100, validationSummary(*r))
	}
}

func validationSummary(r history.ScanResult) string {
	res := r.Validation()
	if res.IsValid && len(res.Advisories()) == 0 {
		return "OK"
	}
	return fmt.Sprint(res.Texts())
}

func init() {
	scanCmd.Flags().String("device", "", "capture device or video file (default /dev/video0)")
	scanCmd.Flags().String("input-format", "", "ffmpeg input format, empty for files (default v4l2)")
	scanCmd.Flags().Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	scanCmd.Flags().Bool("no-export", false, "do not export the batch on exit")
	v.BindPFlag("camera.device", scanCmd.Flags().Lookup("device"))
	v.BindPFlag("camera.input_format", scanCmd.Flags().Lookup("input-format"))
	rootCmd.AddCommand(scanCmd)
}
