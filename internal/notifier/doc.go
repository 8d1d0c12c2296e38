// Package notifier delivers announcements asynchronously.
//
// Notify enqueues a [transport.Notification] and returns. A small worker
// pool sends queued notifications through a [transport.Sender] under a
// shared token bucket, retrying failures with jittered exponential backoff.
//
// Notifications carrying the same key within the dedup window are dropped
// silently, so a moment id seen twice is only announced once.
package notifier
