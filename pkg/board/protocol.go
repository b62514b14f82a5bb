package board

import (
	"fmt"
	"image/color"
	"time"

	"github.com/itohio/d1node/pkg/protocol"
)

// RawSample represents a raw conversion result reported by the firmware.
type RawSample struct {
	Timestamp time.Time
	Channel   int
	Value     int
}

// parseLine parses a sample line from the MCU into a RawSample.
// Format: unix_micros,channel,value
// Example: 1234567890123,0,512
func parseLine(line string) (RawSample, error) {
	s, err := protocol.ParseSample(line)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid sample line %q: %w", line, err)
	}

	return RawSample{
		Timestamp: time.UnixMicro(s.Micros),
		Channel:   s.Channel,
		Value:     s.Value,
	}, nil
}

// formatRead builds the read request for a channel: "R0\n".
func formatRead(channel int) string {
	return string(protocol.AppendRead(nil, channel))
}

// formatColor builds the color command: "C00FF00\n" for green.
func formatColor(c color.RGBA) string {
	return string(protocol.AppendColor(nil, c))
}
