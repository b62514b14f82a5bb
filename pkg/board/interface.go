package board

import (
	"context"
	"image/color"
)

// ADC performs blocking reads of analog input channels.
type ADC interface {
	Read(ctx context.Context, channel int) (int, error)
}

// Pixel is a single addressable RGB LED. Set stages a color, Show flushes it
// to the hardware.
type Pixel interface {
	Set(c color.RGBA)
	Show() error
}

// Board defines the interface for boards (real or mocked).
type Board interface {
	ADC
	Pixel
	Connect() error
	Close() error
	IsConnected() bool
}

// Ensure Serial implements Board.
var _ Board = (*Serial)(nil)

// Ensure Mock implements Board.
var _ Board = (*Mock)(nil)
