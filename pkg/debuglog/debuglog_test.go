package debuglog

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)

	inputs := []string{"", "Board setup complete...", ".", "ADC value: 15", "\r\n"}
	for _, in := range inputs {
		l.Log(in)
		l.LogLine(in)
		l.Logf("%s", in)
	}

	assert.False(t, l.Enabled())
	assert.Zero(t, buf.Len())
}

func TestLogger_Enabled(t *testing.T) {
	tests := []struct {
		name string
		call func(l *Logger)
		want string
	}{
		{"log", func(l *Logger) { l.Log(".") }, "."},
		{"log empty", func(l *Logger) { l.Log("") }, ""},
		{"line", func(l *Logger) { l.LogLine("Serial setup done.") }, "Serial setup done.\r\n"},
		{"empty line", func(l *Logger) { l.LogLine("") }, "\r\n"},
		{"formatted", func(l *Logger) { l.Logf("ADC value: %d", 55) }, "ADC value: 55\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(&buf, true)
			tt.call(l)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestLogger_Sequence(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)

	l.Log(".")
	l.Log(".")
	l.LogLine("")
	l.LogLine("192.168.1.42")

	assert.Equal(t, "..\r\n192.168.1.42\r\n", buf.String())
}

type failingWriter struct{ calls int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls++
	return 0, errors.New("transport down")
}

func TestLogger_WriteErrorsIgnored(t *testing.T) {
	w := &failingWriter{}
	l := New(w, true)

	assert.NotPanics(t, func() {
		l.Log("x")
		l.LogLine("y")
	})
	assert.Equal(t, 2, w.calls)
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Log("x")
		l.LogLine("y")
	})
	assert.False(t, l.Enabled())

	assert.False(t, New(nil, true).Enabled())
}
