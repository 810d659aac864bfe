package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(globalFlags, apiFlags),
		createGameCommand(globalFlags, apiFlags),
		createWriteMessagesCommand(globalFlags, apiFlags),
		createUpdateStatusCommand(globalFlags, apiFlags),
		createUpdateCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "ff7link",
		Short: "Companion bridge for a running Final Fantasy VII",
		Long: `ff7link watches for the game process, exposes its memory through a small
HTTP API for companion UIs and keeps itself up to date.

Examples:
  ff7link serve ff7link.toml          # Run the bridge
  ff7link status                      # Is the game attached?
  ff7link game                        # Dump the current game snapshot
  ff7link write-messages --file=msg.bin
  ff7link update --check-only`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
