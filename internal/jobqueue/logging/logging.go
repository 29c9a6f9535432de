// Package logging gives each engine component its own prefixed
// *log.Logger, so the daemon's combined log output (or a per-component
// log file) stays easy to attribute. The components themselves still
// log with ordinary log.Printf/Println calls -- this package only
// picks the prefix.
package logging

import (
	"io"
	"log"
	"os"
)

// New returns a logger that prefixes every line with "[component] ",
// writing to w (typically os.Stderr), mirroring the "[worker %s]",
// "[maintenance]" prefixes used ad hoc elsewhere in this engine.
func New(component string, w io.Writer) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

// Default returns a component logger writing to os.Stderr, the engine's
// default destination when no log file is configured.
func Default(component string) *log.Logger {
	return New(component, os.Stderr)
}
