package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"momentbot/internal/app"
	"momentbot/internal/config"
	logx "momentbot/pkg/logx"
)

var errCheckFailed = errors.New("one or more regions failed")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch every polled region once",
	Long: `Run a single polling cycle against the configured feeds and print the
current moment of every polled region. Telegram is not contacted.

Exits with 1 when any region could not be fetched.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Duration("timeout", 30*time.Second, "overall deadline")
	checkCmd.Flags().Bool("verbose", false, "log each request")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(configPath(cmd)).Parse()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	verbose, _ := cmd.Flags().GetBool("verbose")
	log := logx.Nop()
	if verbose {
		log = logx.NewConsole("DEBUG")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	results, sum, err := app.Check(ctx, cfg, log)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tMOMENT\tSTART\tEND\tURL")
	failed := false
	for _, r := range results {
		if !r.OK {
			failed = true
			fmt.Fprintf(tw, "%s\t(fetch failed)\t-\t-\t%s\n", r.Region, r.URL)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Region, r.Moment.ID,
			r.Moment.StartDate.Format(time.RFC3339), r.Moment.EndDate.Format(time.RFC3339), r.URL)
	}
	_ = tw.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d requests, %d failed, avg %.1fms\n", sum.Total, sum.Failed, sum.AvgLatencyMs())
	if failed {
		return errCheckFailed
	}
	return nil
}
