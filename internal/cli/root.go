// Package cli holds the taskmesh commands.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "taskmesh",
		Short:   "Turns assistant intents into dependency-ordered plans and runs them",
		Long:    `taskmesh decomposes recognized intents into action graphs, asks before high-impact actions, and executes the rest concurrently with retries.`,
		Version: Version,

		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "config file (.json or .yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newRunCmd(&configPath),
		newIntentsCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
