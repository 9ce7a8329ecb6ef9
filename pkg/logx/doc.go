// Package logx configures zvonbot's structured logging.
//
// It is a thin wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Runtime level/sink swapping via Service.Apply
package logx
