package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"momentbot/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Parse and validate a config file without starting the bot.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(configPath(cmd)).Parse()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	p, _ := cfg.ResolvePoller()
	st, _ := cfg.ResolveStorage()
	n, _ := cfg.ResolveNotifier()

	regions := make([]string, 0, len(p.Regions))
	for _, r := range p.Regions {
		regions = append(regions, r.String()+"→"+p.Channels.Get(r))
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config is valid!")
	fmt.Fprintf(out, "  Base URL:      %s\n", p.BaseURL)
	fmt.Fprintf(out, "  Interval:      %s\n", p.Interval)
	fmt.Fprintf(out, "  Regions:       %s\n", strings.Join(regions, ", "))
	fmt.Fprintf(out, "  Stats every:   %s\n", p.StatsInterval)
	fmt.Fprintf(out, "  Notifier:      %t\n", n.Enabled)
	fmt.Fprintf(out, "  Storage:       %s\n", st.Driver)
	fmt.Fprintf(out, "  Diag:          %t\n", cfg.Diag.Enabled)
	return nil
}
