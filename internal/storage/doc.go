// Package storage keeps the moment history journal: one entry per detected
// moment change, appended by the app and read back by the /last command.
//
// Drivers:
//   - "file": JSON Lines next to the configured path
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
//
// The journal is never used to seed poller state.
package storage
