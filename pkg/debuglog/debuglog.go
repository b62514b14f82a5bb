// Package debuglog is the gated diagnostic channel of the node. Output only
// reaches the sink when debugging was enabled at startup; writes are
// fire-and-forget.
package debuglog

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// LineEnding terminates every LogLine, matching the serial println convention.
const LineEnding = "\r\n"

// DefaultBaudRate is the data rate used for serial debug sinks.
const DefaultBaudRate = 115200

// Logger writes debug text to a sink when enabled.
type Logger struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
}

// New creates a Logger. A nil writer disables output.
func New(w io.Writer, enabled bool) *Logger {
	return &Logger{w: w, enabled: enabled && w != nil}
}

// Enabled reports whether output reaches the sink.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Log writes text as-is.
func (l *Logger) Log(text string) {
	l.write(text)
}

// LogLine writes text followed by LineEnding.
func (l *Logger) LogLine(text string) {
	l.write(text + LineEnding)
}

// Logf formats according to a format specifier and writes the result as a line.
func (l *Logger) Logf(format string, args ...any) {
	if !l.Enabled() {
		return
	}
	l.write(fmt.Sprintf(format, args...) + LineEnding)
}

func (l *Logger) write(s string) {
	if !l.Enabled() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, s)
}

// OpenSerial opens a serial port to be used as the debug sink.
func OpenSerial(port string, baudRate int) (serial.Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open debug port %s: %w", port, err)
	}
	return p, nil
}
