// Package moment watches the regional "last moment" feeds.
//
// The main components are:
//
//   - [HTTPFetcher]: GETs one feed URL and validates the record, never failing loudly
//   - [Poller]: keeps the last seen [Record] per region and detects id changes
//   - [Loop]: checks all regions concurrently every interval and dispatches changes
//   - [Stats] and [Reporter]: request counters and their periodic summary
package moment
