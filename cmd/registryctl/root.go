package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/registryctl/internal/logging"
	"github.com/jackzampolin/registryctl/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "registryctl",
	Short: "Run the Québec land-registry extraction and OCR pipeline",
	Long: `registryctl operates the distributed job-processing platform that
extracts documents from Québec government registries and runs OCR over them.

Subcommands run the long-lived processes that make up the pipeline:
  - worker        claims and executes extraction jobs against a registry site
  - ocr-worker    runs the self-balancing OCR pool over extracted artifacts
  - reaper        reclaims jobs held by workers that stopped heartbeating
  - status        prints per-environment queue and cost summaries
  - process-queue forces one job through the pipeline on demand`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.registryctl/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn, error (default: info, env: REGISTRYCTL_LOG_LEVEL)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFormat, "log-format", "text", "log encoding: text or json",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.ResolveLevel(logLevel)
		format := logging.FormatText
		if logFormat == "json" {
			format = logging.FormatJSON
		}
		logger = logging.New(level, format)
	}

	rootCmd.AddCommand(versionCmd)
}
