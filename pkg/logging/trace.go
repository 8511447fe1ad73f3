package logging

import "log/slog"

// EnableTrace is set by Init when the server level is TRACE. It gates the
// per-tick detector and frame output, which is too chatty for DEBUG.
var EnableTrace = false

// Trace logs at DEBUG level only when EnableTrace is set.
func Trace(msg string, args ...any) {
	if EnableTrace {
		slog.Debug(msg, args...)
	}
}
