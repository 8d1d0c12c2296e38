// Package logx configures momentbot's structured logging.
//
// Logger is a thin value type over zerolog:
//   - console output stays human readable (short timestamp + file:line)
//   - the optional file sink writes one JSON object per line
//   - the optional Telegram sink forwards warnings to a log group, rate limited
package logx
