package moment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	logx "momentbot/pkg/logx"
)

const maxResponseBodySize = 1 << 20 // 1MB

const (
	defaultRequestTimeout      = 10 * time.Second
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
)

var (
	ErrInvalidResponse = errors.New("invalid response from API")
	ErrMissingField    = errors.New("missing field")
)

// Fetcher retrieves the current moment behind url. It never returns an
// error: ok is false on any failure, which the implementation has already
// logged and counted.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (rec Record, ok bool)
}

type FetcherConfig struct {
	// Timeout bounds a single request. Zero means 10s.
	Timeout time.Duration
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// HTTPFetcher is the production Fetcher.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	stats   *Stats
	log     logx.Logger
}

// NewHTTPFetcher builds a fetcher that keeps connections to the API warm.
// stats may be nil.
func NewHTTPFetcher(cfg FetcherConfig, stats *Stats, log logx.Logger) *HTTPFetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			// per-request timeout comes from the context
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false,
			},
		}
	}
	return &HTTPFetcher{client: client, timeout: timeout, stats: stats, log: log}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (rec Record, ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("fetch panicked", logx.String("url", url), logx.Any("panic", r))
			rec, ok = Record{}, false
		}
		f.stats.Observe(ok, time.Since(start))
	}()

	rec, err := f.fetch(ctx, url)
	if err != nil {
		fields := []logx.Field{logx.String("url", url), logx.Duration("took", time.Since(start)), logx.Err(err)}
		if errors.Is(err, context.Canceled) {
			f.log.Debug("fetch cancelled", fields...)
		} else {
			f.log.Warn("error fetching data", fields...)
		}
		return Record{}, false
	}
	return rec, true
}

func (f *HTTPFetcher) fetch(ctx context.Context, url string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Connection", "keep-alive")

	resp, err := f.client.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Record{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Record{}, fmt.Errorf("%w: http %d", ErrInvalidResponse, resp.StatusCode)
	}
	return ParseRecord(body)
}

// ParseRecord validates a feed response body. id, startDate and endDate must
// be present and non-null; dates may be RFC 3339 strings or epoch numbers.
func ParseRecord(body []byte) (Record, error) {
	if !gjson.ValidBytes(body) {
		return Record{}, fmt.Errorf("%w: not json", ErrInvalidResponse)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Record{}, fmt.Errorf("%w: not an object", ErrInvalidResponse)
	}
	fields := doc.Map()

	id, ok := fields["id"]
	if !ok || id.Type == gjson.Null {
		return Record{}, fmt.Errorf("%w: %w: id", ErrInvalidResponse, ErrMissingField)
	}
	if id.Type != gjson.String || id.Str == "" {
		return Record{}, fmt.Errorf("%w: id must be a non-empty string", ErrInvalidResponse)
	}
	start, err := parseTimestamp(fields, "startDate")
	if err != nil {
		return Record{}, err
	}
	end, err := parseTimestamp(fields, "endDate")
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id.Str, StartDate: start, EndDate: end}, nil
}

func parseTimestamp(fields map[string]gjson.Result, key string) (time.Time, error) {
	v, ok := fields[key]
	if !ok || v.Type == gjson.Null {
		return time.Time{}, fmt.Errorf("%w: %w: %s", ErrInvalidResponse, ErrMissingField, key)
	}
	switch v.Type {
	case gjson.Number:
		return epochToTime(v.Num), nil
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC(), nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(n), nil
		}
		return time.Time{}, fmt.Errorf("%w: %s: unparseable timestamp %q", ErrInvalidResponse, key, v.Str)
	default:
		return time.Time{}, fmt.Errorf("%w: %s: unexpected %s", ErrInvalidResponse, key, v.Type)
	}
}

// epochToTime treats values >= 1e12 as milliseconds, smaller ones as seconds.
// This differs from JavaScript's Date(number), which reads every number as
// milliseconds.
func epochToTime(n float64) time.Time {
	if math.Abs(n) >= 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
