package indicator

import (
	"fmt"
	"image/color"

	"github.com/itohio/d1node/pkg/sample"
)

// Color is the commanded state of the status LED.
type Color color.RGBA

// Colors the node commands. Black means off.
var (
	Black = Color{A: 255}
	Green = Color{G: 255, A: 255}
	Blue  = Color{B: 255, A: 255}
	Red   = Color{R: 255, A: 255}
)

// ForBand returns the indication for a sample band.
func ForBand(b sample.Band) Color {
	switch b {
	case sample.BandLow:
		return Green
	case sample.BandMid:
		return Blue
	default:
		return Red
	}
}

// RGBA converts the color for a pixel driver.
func (c Color) RGBA() color.RGBA {
	return color.RGBA(c)
}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case Green:
		return "green"
	case Blue:
		return "blue"
	case Red:
		return "red"
	default:
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
}
