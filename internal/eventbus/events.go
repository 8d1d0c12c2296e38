package eventbus

import "time"

// Event types published by momentbot components.
const (
	TypeMomentChanged = "moment.changed"
	TypeStatsReport   = "stats.report"

	TypeNotifyQueued  = "notifier.queued"
	TypeNotifyDeduped = "notifier.deduped"
	TypeNotifyDropped = "notifier.dropped"
	TypeNotifySent    = "notifier.sent"
	TypeNotifyFailed  = "notifier.failed"

	TypeConfigReloaded = "config.reloaded"
)

// MomentChanged is the payload of TypeMomentChanged.
type MomentChanged struct {
	Region    string    `json:"region"`
	ID        string    `json:"id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// StatsReport is the payload of TypeStatsReport.
type StatsReport struct {
	Total        uint64        `json:"total"`
	Successful   uint64        `json:"successful"`
	Failed       uint64        `json:"failed"`
	AvgLatencyMs float64       `json:"avg_latency_ms"`
	Window       time.Duration `json:"window"`
}

// NotificationEvent is the payload of the notifier.* events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id,omitempty"`
	Username string    `json:"username,omitempty"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key,omitempty"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}
