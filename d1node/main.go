package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "d1node",
		Short: "Analog threshold indicator node",
		Long: `d1node samples an analog input on the board, classifies the reading into
low, mid and high bands and shows the band on an RGB status LED. With Wi-Fi
enabled the LED doubles as a link heartbeat.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "config.yaml", "Configuration file path")

	root.AddCommand(newRunCmd(), newPortsCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "d1node", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
