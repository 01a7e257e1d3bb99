//go:build !tinygo

package spimon

import (
	"io"
	"log"
	"os"
)

func init() {
	globalLogger = NewStdLogger(os.Stderr, false)
}

// stdLogger writes through a standard library logger.
// Debug messages are dropped unless verbose is set.
type stdLogger struct {
	out     *log.Logger
	verbose bool
}

// NewStdLogger returns a Logger writing timestamped lines to w.
func NewStdLogger(w io.Writer, verbose bool) Logger {
	return &stdLogger{
		out:     log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		verbose: verbose,
	}
}

func (l *stdLogger) Debug(msg string) {
	if l.verbose {
		l.out.Print("[DEBUG] " + msg)
	}
}

func (l *stdLogger) Info(msg string) {
	l.out.Print("[INFO]  " + msg)
}

func (l *stdLogger) Warn(msg string) {
	l.out.Print("[WARN]  " + msg)
}

func (l *stdLogger) Error(msg string) {
	l.out.Print("[ERROR] " + msg)
}
