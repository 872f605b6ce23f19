// Package monitoring holds the diagnostic logger shared by the analysis
// packages. Library code logs through Logf so tests and embedding commands can
// redirect or silence it without touching the standard logger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Nil silences all diagnostics.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that tags every line with "[name] ". It
// resolves Logf on each call, so a later SetLogger still applies.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Quiet mutes Logf and returns a function restoring the previous logger.
func Quiet() (restore func()) {
	previous := Logf
	SetLogger(nil)
	return func() { Logf = previous }
}
