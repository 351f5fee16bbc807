package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/logging"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "beehive",
	Short: "Deception IDS session correlation engine",
	Long: `beehive collects sessions reported by honeypot and bait client drones,
correlates bait traffic with the decoy sessions it produced and classifies
everything else as an attack.

Run "beehive server" to start the engine. The other commands talk to a
running engine over its NATS command subject.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
