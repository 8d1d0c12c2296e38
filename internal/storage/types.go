package storage

import (
	"errors"
	"time"

	"momentbot/internal/region"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty or "none" Driver disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// MomentEntry is one detected moment change.
type MomentEntry struct {
	At        time.Time     `json:"at"`
	Region    region.Region `json:"region"`
	MomentID  string        `json:"moment_id"`
	StartDate time.Time     `json:"start_date"`
	EndDate   time.Time     `json:"end_date"`
	// Channel is the chat the announcement was queued for.
	Channel string `json:"channel,omitempty"`
}
