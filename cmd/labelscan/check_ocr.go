package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/capture"
	"github.com/kdimtricp/labelscan/internal/ocr"
	"github.com/kdimtricp/labelscan/internal/snvalidate"
)

var checkOCRCmd = &cobra.Command{
	Use:   "check-ocr <image>",
	Short: "Send one image to the configured OCR provider and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		crop, _ := cmd.Flags().GetBool("crop")

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Checking OCR configuration")
		fmt.Fprintln(out, "==========================")
		fmt.Fprintf(out, "Provider: %s\n", cfg.OCR.Provider)
		fmt.Fprintf(out, "Model:    %s\n", cfg.OCR.Model)
		fmt.Fprintf(out, "Endpoint: %s\n\n", cfg.OCR.BaseURL)

		recognizer, err := ocr.New(cfg.OCRConfig())
		if err != nil {
			fmt.Fprintf(out, "Not configured: %s\n", ocr.UserMessage(err))
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		if crop {
			img, err := camera.DecodeFrame(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("decoding image: %w", err)
			}
			cc := cfg.CaptureConfig()
			if data, err = capture.Encode(img, cc.WidthFraction, cc.Quality); err != nil {
				return err
			}
			fmt.Fprintf(out, "Cropped to guide frame: %d bytes\n", len(data))
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.OCR.Timeout)
		defer cancel()

		res, err := recognizer.Recognize(ctx, data)
		if err != nil {
			fmt.Fprintf(out, "Recognition failed (%s): %s\n", ocr.KindOf(err), ocr.UserMessage(err))
			return err
		}

		pretty, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(out, string(pretty))

		if res.SN != "" {
			v := snvalidate.Validate(res.SN)
			fmt.Fprintf(out, "SN valid: %v\n", v.IsValid)
			for _, m := range v.Messages {
				fmt.Fprintf(out, "    [%s] %s\n", m.Severity, m.Text)
			}
		}
		return nil
	},
}

func init() {
	checkOCRCmd.Flags().Bool("crop", false, "crop to the capture guide frame before sending")
	rootCmd.AddCommand(checkOCRCmd)
}
