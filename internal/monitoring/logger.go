package monitoring

import "log"

// LogFunc is the printf-style logger signature used across the bridge.
type LogFunc func(format string, v ...interface{})

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf LogFunc = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f LogFunc) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// WithPrefix returns a logger that prepends "[prefix] " to every message and
// writes through base, or through the current package logger when base is nil.
func WithPrefix(base LogFunc, prefix string) LogFunc {
	return func(format string, v ...interface{}) {
		out := base
		if out == nil {
			out = Logf
		}
		out("["+prefix+"] "+format, v...)
	}
}
