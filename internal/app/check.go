package app

import (
	"context"

	"momentbot/internal/config"
	"momentbot/internal/moment"
	"momentbot/internal/region"
	logx "momentbot/pkg/logx"
)

// CheckResult is the outcome of one region in Check.
type CheckResult struct {
	Region region.Region
	URL    string
	Moment moment.Record
	// OK is false when the fetch failed or the response was unusable.
	OK bool
}

// Check runs a single polling cycle over the configured regions without
// Telegram and reports what each feed returned.
func Check(ctx context.Context, cfg *config.Config, log logx.Logger) ([]CheckResult, moment.Summary, error) {
	pcfg, err := cfg.ResolvePoller()
	if err != nil {
		return nil, moment.Summary{}, err
	}
	stats := moment.NewStats(nil)
	fetcher := moment.NewHTTPFetcher(moment.FetcherConfig{Timeout: pcfg.RequestTimeout}, stats, log)
	poller, err := moment.NewPoller(moment.PollerConfig{BaseURL: pcfg.BaseURL, Paths: pcfg.Paths}, fetcher, log)
	if err != nil {
		return nil, moment.Summary{}, err
	}
	loop := moment.NewLoop(poller, moment.LoopConfig{Interval: pcfg.Interval}, log)
	if _, err := loop.RunOnce(ctx, pcfg.Regions); err != nil {
		return nil, moment.Summary{}, err
	}

	out := make([]CheckResult, 0, len(pcfg.Regions))
	for _, r := range pcfg.Regions {
		rec := poller.Current(r)
		out = append(out, CheckResult{Region: r, URL: poller.URL(r), Moment: rec, OK: !rec.IsBaseline()})
	}
	return out, stats.Snapshot(), nil
}
