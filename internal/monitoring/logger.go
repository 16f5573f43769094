// Package monitoring holds the diagnostic logger shared by the library
// packages. Messages carry a bracketed component tag such as "[run]".
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf;
// tests mute it with SetLogger(nil).
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces Logf. nil installs a no-op logger.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}

// Tagged is a Printf-style logger that prefixes messages with "[tag] " and
// writes through the current Logf.
type Tagged string

func (t Tagged) Printf(format string, v ...any) {
	Logf("["+string(t)+"] "+format, v...)
}
