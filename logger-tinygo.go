//go:build tinygo

package spimon

import (
	"machine"
)

func init() {
	globalLogger = &serialLogger{}
}

// serialLogger writes to machine.Serial without going through fmt.
// Debug messages are dropped.
type serialLogger struct{}

func (l *serialLogger) write(prefix, msg string) {
	machine.Serial.Write([]byte(prefix))
	machine.Serial.Write([]byte(msg))
	machine.Serial.Write([]byte("\r\n"))
}

func (l *serialLogger) Debug(msg string) {}
func (l *serialLogger) Info(msg string)  { l.write("spimon: ", msg) }
func (l *serialLogger) Warn(msg string)  { l.write("spimon: warning: ", msg) }
func (l *serialLogger) Error(msg string) { l.write("spimon: error: ", msg) }
