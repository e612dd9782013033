package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mrmushfiq/ridegate/internal/shared/config"
	"github.com/mrmushfiq/ridegate/internal/shared/logging"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "ridegate integration gateway",
	Long: `ridegate fronts the payment, maps, tracking, partner-booking and
emergency providers of the ride platform behind one authenticated,
rate-limited and cached API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Init(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
	// Running the bare binary serves.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("gateway failed")
		os.Exit(1)
	}
}
