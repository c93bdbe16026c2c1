package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/labelscan/internal/config"
	"github.com/kdimtricp/labelscan/internal/logging"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "labelscan",
	Short: "Scan equipment labels with a camera and collect serial numbers into CSV batches.",
	Long: `labelscan watches a camera, takes a picture once the label is held still,
asks a vision model for the serial number and keeps a deduplicated batch
that can be exported as CSV.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(v, cfgFile); err != nil {
			return err
		}
		return logging.SetLogLevel(v.GetString("log.level"))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.labelscan.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("loglevel"))
}

// loadConfig decodes the merged configuration for a subcommand.
func loadConfig() (*config.Config, error) {
	return config.Load(v)
}
