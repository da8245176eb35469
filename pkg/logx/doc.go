// Package logx configures weappnotify's structured logging.
//
// The package wraps zerolog in a small Logger value so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output stays JSON-structured
//   - Level and sinks can be swapped at runtime via Service.Apply
package logx
