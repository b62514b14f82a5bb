package board

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/itohio/d1node/pkg/config"
)

// MaxValue is the full-scale reading of the 10-bit ADC.
const MaxValue = 1023

// ShownHistory is how many flushed colors the mock keeps.
const ShownHistory = 256

// Mock simulates a board for testing and development.
type Mock struct {
	cfg *config.MockConfig

	mu        sync.RWMutex
	connected bool

	// ADC simulation state
	reads int
	next  int

	// Pixel state
	pending color.RGBA
	shown   []color.RGBA
	shows   int
}

// NewMock creates a new mocked board instance.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			Pattern: "sweep",
			Step:    15,
		}
	}

	return &Mock{
		cfg:  cfg,
		next: cfg.Value,
	}
}

// Connect simulates connecting to the board.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Close stops the mocked board.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns whether the board is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Read returns the next simulated conversion. The channel is ignored.
func (m *Mock) Read(ctx context.Context, _ int) (int, error) {
	if m.cfg.Latency > 0 {
		select {
		case <-time.After(m.cfg.Latency):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, ErrNotConnected
	}

	v := m.generate()
	m.reads++
	return v, nil
}

// generate produces the next value for the configured pattern.
func (m *Mock) generate() int {
	switch m.cfg.Pattern {
	case "constant":
		return m.cfg.Value
	case "script":
		if len(m.cfg.Script) == 0 {
			return 0
		}
		// The last scripted value repeats once the script runs out.
		i := m.reads
		if i >= len(m.cfg.Script) {
			i = len(m.cfg.Script) - 1
		}
		return m.cfg.Script[i]
	default:
		// Sawtooth over the full ADC range.
		v := m.next
		m.next += m.cfg.Step
		if m.next > MaxValue {
			m.next = 0
		}
		return v
	}
}

// Reads returns how many conversions were served.
func (m *Mock) Reads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads
}

// Set stages the pixel color.
func (m *Mock) Set(c color.RGBA) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = c
}

// Show records the staged color as displayed.
func (m *Mock) Show() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.shown) == ShownHistory {
		copy(m.shown, m.shown[1:])
		m.shown = m.shown[:len(m.shown)-1]
	}
	m.shown = append(m.shown, m.pending)
	m.shows++
	return nil
}

// Shows returns how many times the pixel was flushed.
func (m *Mock) Shows() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shows
}

// Shown returns the most recent flushed colors, oldest first. At most
// ShownHistory entries are kept.
func (m *Mock) Shown() []color.RGBA {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]color.RGBA, len(m.shown))
	copy(out, m.shown)
	return out
}

// Displayed returns the color currently on the pixel.
func (m *Mock) Displayed() color.RGBA {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.shown) == 0 {
		return color.RGBA{}
	}
	return m.shown[len(m.shown)-1]
}
