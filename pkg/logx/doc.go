// Package logx configures eventbot's structured logging.
//
// It wraps zerolog in a value-type Logger so components can carry a logger
// by value, derive children with With(), and keep writing to the live sinks
// after the Service swaps configuration at runtime.
//
// Sinks:
//   - console (short timestamp + short caller)
//   - JSON file
//   - Telegram alert chat (min level + rate limiting), used for operator alerts
package logx
