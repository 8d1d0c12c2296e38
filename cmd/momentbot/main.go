// Command momentbot announces new BeReal moments to Telegram channels.
//
// Usage:
//
//	momentbot run -c config.json       # poll and announce until stopped
//	momentbot validate -c config.json  # check a config file
//	momentbot check -c config.json     # fetch every polled region once
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// set via -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "momentbot",
	Short: "Announce new BeReal moments to Telegram",
	Long: `momentbot polls the regional BeReal moment feeds and posts a message to
the region's Telegram channel whenever a new moment starts.

Without a subcommand it behaves like "momentbot run".`,
	SilenceUsage: true,
	RunE:         runBot,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("momentbot %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "./config.json", "path to config file (json or yaml)")
	rootCmd.AddCommand(versionCmd)
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
