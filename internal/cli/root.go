// Package cli implements the relay command line.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
}

// NewRootCommand creates the root command for the relay CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay messages between two Pub/Sub projects",
		Long: `Relay drains every queue, topic and subscription of a source project into
the entity of the same name in a destination project.

Entities missing from the destination are skipped; nothing is created or deleted.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}
