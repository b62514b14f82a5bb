// Package indicator drives the single status LED.
package indicator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/itohio/d1node/pkg/board"
	"github.com/itohio/d1node/pkg/logging"
)

// ErrNotInitialized is returned by SetColor before Initialize.
var ErrNotInitialized = errors.New("indicator not initialized")

// Driver commands one addressable LED. SetColor stages and flushes the color
// under a lock, so no caller ever observes a staged but unflushed color.
type Driver struct {
	mu          sync.Mutex
	pixel       board.Pixel
	current     Color
	initialized bool
	logger      *slog.Logger
}

// New creates a driver for the given pixel.
func New(pixel board.Pixel) *Driver {
	return &Driver{
		pixel:   pixel,
		current: Black,
		logger:  logging.GetLogger("indicator"),
	}
}

// Initialize turns the LED off. It must be called once before SetColor.
func (d *Driver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.flush(Black); err != nil {
		return err
	}
	d.initialized = true
	return nil
}

// SetColor commands the LED to c and flushes it to the hardware.
func (d *Driver) SetColor(c Color) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return ErrNotInitialized
	}
	return d.flush(c)
}

// Current returns the last color flushed to the LED.
func (d *Driver) Current() Color {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Driver) flush(c Color) error {
	d.pixel.Set(c.RGBA())
	if err := d.pixel.Show(); err != nil {
		return fmt.Errorf("failed to show %s: %w", c, err)
	}

	if c != d.current {
		d.logger.Debug("Indicator changed", "from", d.current.String(), "to", c.String())
	}
	d.current = c
	return nil
}
