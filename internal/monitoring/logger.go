// Package monitoring holds the module-wide diagnostic logger.
package monitoring

import "log"

// Logf is the diagnostic logger used by the OOD pipeline for progress
// and training messages. It defaults to log.Printf; tests or embedding
// applications can replace or mute it via SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a
// no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
