package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"momentbot/internal/region"
	logx "momentbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendMoment(ctx context.Context, e MomentEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moments(at, region, moment_id, start_date, end_date, channel) VALUES(?,?,?,?,?,?)`,
		formatTime(e.At), e.Region.String(), e.MomentID, formatTime(e.StartDate), formatTime(e.EndDate), nullStr(e.Channel),
	)
	return err
}

func (s *sqliteStore) RecentMoments(ctx context.Context, r region.Region, limit int) ([]MomentEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = DefaultRecent
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, moment_id, start_date, end_date, COALESCE(channel, '')
		 FROM moments WHERE region = ? ORDER BY seq DESC LIMIT ?`,
		r.String(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MomentEntry
	for rows.Next() {
		var at, start, end string
		e := MomentEntry{Region: r}
		if err := rows.Scan(&at, &e.MomentID, &start, &end, &e.Channel); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.StartDate, _ = time.Parse(time.RFC3339Nano, start)
		e.EndDate, _ = time.Parse(time.RFC3339Nano, end)
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
