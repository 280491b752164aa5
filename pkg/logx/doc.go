// Package logx is remindbot's structured logging layer on top of zerolog.
//
// A Logger is a small value type: the zero value discards everything, With()
// derives a child with fixed fields, and loggers obtained from a Service keep
// following its sinks across Service.Apply calls (hot reload).
//
// Sinks:
//   - console: human readable, short timestamp and file:line caller
//   - file: JSON lines
//   - chat: warnings and above forwarded to an admin chat, rate limited and
//     dropped rather than blocking the caller
package logx
