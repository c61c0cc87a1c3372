package main

import (
	"log"

	"lanchat/config"

	"github.com/spf13/cobra"
)

var socketPath string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "lanchat",
	Short: "LAN chat server",
	Long: `lanchat runs a LAN chat server with accounts, friends, groups and
group chat history, and talks to a running server over its control socket.

Use 'lanchat help <command>' for more information on a specific command.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.Load().ControlSocket, "Control socket path")
}
