// Command spectrumd runs a channel registry node and talks to the control group.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath = "config.yaml"

var rootCmd = &cobra.Command{
	Use:   "spectrumd",
	Short: "Distributed channel registry",
	Long: `spectrumd maps radio channels to multicast endpoints.
Nodes agree on one endpoint per channel over a shared control group.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "node",
		Title: "Node Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "console",
		Title: "Control Group Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "node configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
