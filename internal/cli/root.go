package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hive-discover/clip-api/config"
	"github.com/hive-discover/clip-api/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	rebuild  bool
	cfg      *config.Config
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clipworker",
	Short: "CLIP image description worker for the Hive post corpus",
	Long: `clipworker selects posts whose images are not yet described, embeds every
image with a CLIP encoder, scores its quality, merges near-duplicates into
visual clusters and writes a per-post average embedding back to the store.

Configuration is read from a YAML file and overridden by environment
variables (OPENSEARCH_HOSTS, CLIP_API_ADDRESS, BATCH_SIZE, ...).

Example usage:
  clipworker run                          # Process batches until interrupted
  clipworker once                         # Process a single batch
  clipworker encode-text "a red bicycle"  # Print a text embedding
  clipworker config init                  # Write the default configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger = logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "clipworker.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.PersistentFlags().BoolVar(&rebuild, "rebuild", false, "drop local image clusters and vectors and requeue every post (bolt store only)")
}
