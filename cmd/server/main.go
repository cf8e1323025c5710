package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/huddle/internal/config"
)

// app carries what every subcommand shares once flags are parsed.
type app struct {
	envFiles []string
	cfg      config.Config
	log      *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "huddle",
		Short: "Realtime chat gateway",
		Long: `huddle accepts websocket connections, fans chat messages out to the
connections subscribed to each channel, and persists every message.

Configuration is read from HUDDLE_* environment variables and an optional
.env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(a.envFiles...)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = config.NewLogger(cfg.Log)
			slog.SetDefault(a.log)
			return nil
		},
	}

	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load before reading the environment")
	root.AddCommand(
		serveCmd(a),
		historyCmd(a),
		tokenCmd(a),
	)
	return root
}
