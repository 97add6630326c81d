// Package cli holds the board-sync commands.
package cli

import (
	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"

	"board-sync/config"
)

// RootOptions holds global flags and the configuration loaded before any
// subcommand runs.
type RootOptions struct {
	Verbose bool
	Reader  config.Reader
	Config  *config.Config
}

// NewRootCommand creates the root command reading configuration from the
// environment.
func NewRootCommand() *cobra.Command {
	return newRootCommand(config.NewEnvReader())
}

func newRootCommand(reader config.Reader) *cobra.Command {
	opts := &RootOptions{Reader: reader}

	cmd := &cobra.Command{
		Use:   "board-sync",
		Short: "Kanban board event relay and sync client",
		Long: `board-sync relays task mutation events between the sessions of one owner
over server-sent events, and runs sessions that guard edits with
optimistic locks and keep a short-lived read cache coherent.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Reader.Read()
			if err != nil {
				return err
			}
			opts.Config = cfg
			if cfg.Debug || opts.Verbose {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewEnvCommand())

	return cmd
}

// NewEnvCommand prints the environment variables board-sync reads.
func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List configuration environment variables",
		Args:  cobra.NoArgs,
		// Skip the root config read so the listing works with a broken environment.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := config.Usage()
			if err != nil {
				return err
			}
			cmd.Println(usage)
			return nil
		},
	}
}
