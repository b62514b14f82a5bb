// Package protocol is the line oriented UART protocol spoken between the host
// and the board firmware. It builds with TinyGo and has no dependencies
// outside the standard library.
//
//	host -> board:  R<channel>\n     request one conversion
//	host -> board:  C<RRGGBB>\n      set the pixel color and flush it
//	board -> host:  <unix_micros>,<channel>,<value>\n
//	board -> host:  # <text>\n       debug output
package protocol

import (
	"errors"
	"image/color"
	"strconv"
)

// Line prefixes.
const (
	ReadCommand  = 'R'
	ColorCommand = 'C'
	DebugPrefix  = '#'
)

// MaxLine is the longest line either side accepts, without the terminator.
const MaxLine = 32

var (
	ErrEmpty          = errors.New("empty line")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMalformed      = errors.New("malformed line")
)

// Command is a parsed host request.
type Command struct {
	Op      byte
	Channel int        // ReadCommand
	Color   color.RGBA // ColorCommand
}

// ParseCommand parses one request line without its terminator.
func ParseCommand(line []byte) (Command, error) {
	if len(line) == 0 {
		return Command{}, ErrEmpty
	}

	switch line[0] {
	case ReadCommand:
		ch, err := strconv.Atoi(string(line[1:]))
		if err != nil || ch < 0 {
			return Command{}, ErrMalformed
		}
		return Command{Op: ReadCommand, Channel: ch}, nil
	case ColorCommand:
		if len(line) != 7 {
			return Command{}, ErrMalformed
		}
		rgb, err := strconv.ParseUint(string(line[1:]), 16, 32)
		if err != nil {
			return Command{}, ErrMalformed
		}
		return Command{Op: ColorCommand, Color: color.RGBA{
			R: uint8(rgb >> 16),
			G: uint8(rgb >> 8),
			B: uint8(rgb),
			A: 255,
		}}, nil
	default:
		return Command{}, ErrUnknownCommand
	}
}

// AppendRead appends the read request for channel.
func AppendRead(dst []byte, channel int) []byte {
	dst = append(dst, ReadCommand)
	dst = strconv.AppendInt(dst, int64(channel), 10)
	return append(dst, '\n')
}

const hexDigits = "0123456789ABCDEF"

// AppendColor appends the color command for c. Alpha is not transmitted.
func AppendColor(dst []byte, c color.RGBA) []byte {
	dst = append(dst, ColorCommand)
	for _, v := range [3]uint8{c.R, c.G, c.B} {
		dst = append(dst, hexDigits[v>>4], hexDigits[v&0x0f])
	}
	return append(dst, '\n')
}

// AppendSample appends a sample report.
func AppendSample(dst []byte, micros int64, channel, value int) []byte {
	dst = strconv.AppendInt(dst, micros, 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(channel), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(value), 10)
	return append(dst, '\n')
}

// AppendDebug appends a debug line.
func AppendDebug(dst []byte, text string) []byte {
	dst = append(dst, DebugPrefix, ' ')
	dst = append(dst, text...)
	return append(dst, '\n')
}

// Sample is a parsed sample report.
type Sample struct {
	Micros  int64
	Channel int
	Value   int
}

// ParseSample parses a sample report without its terminator.
func ParseSample(line string) (Sample, error) {
	var fields [3]string
	n := 0
	start := 0
	for i := 0; i <= len(line); i++ {
		if i < len(line) && line[i] != ',' {
			continue
		}
		if n == len(fields) {
			return Sample{}, ErrMalformed
		}
		fields[n] = line[start:i]
		n++
		start = i + 1
	}
	if n != len(fields) {
		return Sample{}, ErrMalformed
	}

	micros, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Sample{}, err
	}
	channel, err := strconv.Atoi(fields[1])
	if err != nil {
		return Sample{}, err
	}
	if channel < 0 {
		return Sample{}, ErrMalformed
	}
	value, err := strconv.Atoi(fields[2])
	if err != nil {
		return Sample{}, err
	}
	return Sample{Micros: micros, Channel: channel, Value: value}, nil
}

// LineBuffer assembles lines from a byte stream. Overlong lines are dropped
// whole.
type LineBuffer struct {
	buf      [MaxLine]byte
	n        int
	overflow bool
}

// Feed adds one byte. It returns the completed line, without terminator and
// surrounding blanks, when b ends a non-empty line. The returned slice is
// valid until the next call.
func (l *LineBuffer) Feed(b byte) ([]byte, bool) {
	switch b {
	case '\n', '\r':
		line, ok := l.buf[:l.n], l.n > 0 && !l.overflow
		l.n = 0
		l.overflow = false
		return line, ok
	case ' ', '\t':
		return nil, false
	}

	if l.n == len(l.buf) {
		l.overflow = true
		return nil, false
	}
	l.buf[l.n] = b
	l.n++
	return nil, false
}
