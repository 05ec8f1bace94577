// islemulti is a real-time multiplayer session server speaking a newline
// delimited text protocol over TCP and, optionally, WebSocket.
//
// Usage:
//
//	islemulti serve              - Run the session server
//	islemulti migrate            - Apply journal schema migrations
//	islemulti config             - Print the effective configuration
//
// Global flags:
//
//	--config <path>  - Configuration file (default: configs/dev.yaml)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagConfig string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "islemulti",
		Short: "Real-time multiplayer session server",
		Long: `islemulti accepts client connections, tracks each joined player's
position and heading, and relays join and move events to every other player.

Examples:
  islemulti serve
  islemulti serve --config configs/prod.yaml
  ISLE_LISTENER_PORT=9100 islemulti serve
  islemulti migrate --direction up
  islemulti config`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "configs/dev.yaml", "Path to configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newConfigCmd())
	return root
}
