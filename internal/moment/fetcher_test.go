package moment

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	logx "momentbot/pkg/logx"
)

func TestHTTPFetcherSendsNoCacheHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
			t.Errorf("Cache-Control=%q", got)
		}
		if got := r.Header.Get("Pragma"); got != "no-cache" {
			t.Errorf("Pragma=%q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m-1","startDate":"2024-06-06T12:00:00.000Z","endDate":"2024-06-06T12:02:00.000Z","region":"europe-west"}`))
	}))
	defer srv.Close()

	stats := NewStats(nil)
	f := NewHTTPFetcher(FetcherConfig{Timeout: time.Second}, stats, logx.Nop())
	rec, ok := f.Fetch(context.Background(), srv.URL)
	if !ok {
		t.Fatalf("fetch failed")
	}
	want := Record{ID: "m-1", StartDate: t0, EndDate: t1}
	if rec != want {
		t.Fatalf("rec=%+v want %+v", rec, want)
	}

	s := stats.Snapshot()
	if s.Total != 1 || s.Successful != 1 || s.Failed != 0 || s.LatencySamples != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestHTTPFetcherFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		delay   time.Duration
		timeout time.Duration
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{"id":"x","startDate":1,"endDate":2}`},
		{name: "missing id", status: http.StatusOK, body: `{"startDate":1,"endDate":2}`},
		{name: "null end", status: http.StatusOK, body: `{"id":"x","startDate":1,"endDate":null}`},
		{name: "garbage", status: http.StatusOK, body: `<html>`},
		{name: "timeout", status: http.StatusOK, body: `{}`, delay: 300 * time.Millisecond, timeout: 50 * time.Millisecond},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.delay > 0 {
					select {
					case <-time.After(tc.delay):
					case <-r.Context().Done():
						return
					}
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			reg := prometheus.NewRegistry()
			m := NewMetrics(reg)
			stats := NewStats(m)
			timeout := tc.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			f := NewHTTPFetcher(FetcherConfig{Timeout: timeout}, stats, logx.Nop())
			if rec, ok := f.Fetch(context.Background(), srv.URL); ok {
				t.Fatalf("expected failure, got %+v", rec)
			}
			s := stats.Snapshot()
			if s.Total != 1 || s.Failed != 1 || s.Successful != 0 || s.LatencySamples != 1 {
				t.Fatalf("stats=%+v", s)
			}
			if got := testutil.ToFloat64(m.requests.WithLabelValues("failed")); got != 1 {
				t.Fatalf("failed counter=%v", got)
			}
		})
	}
}

func TestHTTPFetcherUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	stats := NewStats(nil)
	f := NewHTTPFetcher(FetcherConfig{Timeout: time.Second}, stats, logx.Nop())
	if _, ok := f.Fetch(context.Background(), url); ok {
		t.Fatalf("expected failure")
	}
	if s := stats.Snapshot(); s.Failed != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestHTTPFetcherCancelledLogsAtDebug(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var buf bytes.Buffer
	log := logx.FromZerolog(zerolog.New(&buf).Level(zerolog.DebugLevel))
	stats := NewStats(nil)
	f := NewHTTPFetcher(FetcherConfig{Timeout: time.Second}, stats, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := f.Fetch(ctx, srv.URL); ok {
		t.Fatalf("expected failure")
	}
	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte(`"level":"debug"`)) || !bytes.Contains(buf.Bytes(), []byte("fetch cancelled")) {
		t.Fatalf("log = %s", out)
	}
	if bytes.Contains(buf.Bytes(), []byte(`"level":"warn"`)) {
		t.Fatalf("cancelled fetch logged as warning: %s", out)
	}
	if s := stats.Snapshot(); s.Total != 1 || s.Failed != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestParseRecord(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		body    string
		want    Record
		wantErr error
	}{
		{
			name: "rfc3339 strings",
			body: `{"id":"a","startDate":"2024-06-06T12:00:00Z","endDate":"2024-06-06T12:02:00Z"}`,
			want: Record{ID: "a", StartDate: t0, EndDate: t1},
		},
		{
			name: "epoch seconds",
			body: `{"id":"a","startDate":1717675200,"endDate":1717675320}`,
			want: Record{ID: "a", StartDate: t0, EndDate: t1},
		},
		{
			name: "epoch millis",
			body: `{"id":"a","startDate":1717675200000,"endDate":1717675320000}`,
			want: Record{ID: "a", StartDate: t0, EndDate: t1},
		},
		{
			name: "numeric strings",
			body: `{"id":"a","startDate":"1717675200","endDate":"1717675320000"}`,
			want: Record{ID: "a", StartDate: t0, EndDate: t1},
		},
		{name: "missing id", body: `{"startDate":1,"endDate":2}`, wantErr: ErrMissingField},
		{name: "null id", body: `{"id":null,"startDate":1,"endDate":2}`, wantErr: ErrMissingField},
		{name: "missing startDate", body: `{"id":"a","endDate":2}`, wantErr: ErrMissingField},
		{name: "null endDate", body: `{"id":"a","startDate":1,"endDate":null}`, wantErr: ErrMissingField},
		{name: "empty id", body: `{"id":"","startDate":1,"endDate":2}`, wantErr: ErrInvalidResponse},
		{name: "numeric id", body: `{"id":7,"startDate":1,"endDate":2}`, wantErr: ErrInvalidResponse},
		{name: "bad date", body: `{"id":"a","startDate":"yesterday","endDate":2}`, wantErr: ErrInvalidResponse},
		{name: "bool date", body: `{"id":"a","startDate":true,"endDate":2}`, wantErr: ErrInvalidResponse},
		{name: "array", body: `[1,2]`, wantErr: ErrInvalidResponse},
		{name: "not json", body: `{`, wantErr: ErrInvalidResponse},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRecord([]byte(tc.body))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !got.StartDate.Equal(tc.want.StartDate) || !got.EndDate.Equal(tc.want.EndDate) || got.ID != tc.want.ID {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}
