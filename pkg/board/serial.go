package board

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/itohio/d1node/pkg/logging"
	"github.com/itohio/d1node/pkg/protocol"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the UART rate of the board firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the samples channel buffer.
	DefaultBufferSize = 16
	// DefaultReadTimeout bounds a single ADC request.
	DefaultReadTimeout = time.Second
)

// ErrNotConnected is returned when the board link is down.
var ErrNotConnected = errors.New("not connected")

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial represents a connection to the board firmware over UART.
type Serial struct {
	port        string
	baudRate    int
	readTimeout time.Duration

	conn      io.ReadWriteCloser
	samples   chan RawSample
	pending   color.RGBA
	mu        sync.RWMutex
	writeMu   sync.Mutex
	readMu    sync.Mutex
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial board with the specified port and baud rate.
func New(port string, baudRate int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		readTimeout: DefaultReadTimeout,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts reading replies.
func (d *Serial) Connect() error {
	if d.IsConnected() {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	return d.attach(port)
}

// attach takes ownership of conn and starts the reply reader on it.
func (d *Serial) attach(conn io.ReadWriteCloser) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		_ = conn.Close()
		return fmt.Errorf("already connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.cancel = cancel
	d.samples = make(chan RawSample, DefaultBufferSize)
	d.connected = true

	go d.readLines(ctx, conn, d.samples)

	return nil
}

// Close closes the connection and stops the reader.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	var err error
	if d.conn != nil {
		err = d.conn.Close()
		d.conn = nil
	}
	d.connected = false

	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// IsConnected returns whether the board is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Read requests one conversion of the given channel and waits for the reply.
func (d *Serial) Read(ctx context.Context, channel int) (int, error) {
	d.readMu.Lock()
	defer d.readMu.Unlock()

	d.mu.RLock()
	samples, connected := d.samples, d.connected
	d.mu.RUnlock()
	if !connected {
		return 0, ErrNotConnected
	}

	// Replies to earlier, abandoned requests are stale.
drain:
	for {
		select {
		case _, ok := <-samples:
			if !ok {
				return 0, ErrNotConnected
			}
		default:
			break drain
		}
	}

	if err := d.write(formatRead(channel)); err != nil {
		return 0, fmt.Errorf("failed to request channel %d: %w", channel, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.readTimeout)
	defer cancel()

	for {
		select {
		case s, ok := <-samples:
			if !ok {
				return 0, ErrNotConnected
			}
			if s.Channel != channel {
				continue
			}
			return s.Value, nil
		case <-ctx.Done():
			return 0, fmt.Errorf("no reply for channel %d: %w", channel, ctx.Err())
		}
	}
}

// Set stages the pixel color.
func (d *Serial) Set(c color.RGBA) {
	d.mu.Lock()
	d.pending = c
	d.mu.Unlock()
}

// Show sends the staged color to the board.
func (d *Serial) Show() error {
	d.mu.RLock()
	c := d.pending
	d.mu.RUnlock()

	if err := d.write(formatColor(c)); err != nil {
		return fmt.Errorf("failed to send color command: %w", err)
	}
	return nil
}

func (d *Serial) write(cmd string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.conn.Write([]byte(cmd))
	return err
}

// readLines reads lines from the serial port until the port closes. It owns
// and closes the samples channel. When the port goes away underneath it the
// link is marked down.
func (d *Serial) readLines(ctx context.Context, r io.Reader, samples chan<- RawSample) {
	defer close(samples)

	logger := logging.GetLogger("board")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line[0] == protocol.DebugPrefix {
			logger.Debug("Firmware", "line", strings.TrimSpace(line[1:]))
			continue
		}

		sample, err := parseLine(line)
		if err != nil {
			logger.Warn("Failed to parse line", "line", line, "error", err)
			continue
		}

		select {
		case samples <- sample:
		case <-ctx.Done():
			return
		default:
			logger.Warn("Samples channel full, dropping sample", "channel", sample.Channel)
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		logger.Error("Error reading from serial port", "port", d.port, "error", err)
	} else {
		logger.Warn("Serial port closed", "port", d.port)
	}
	d.lost(samples)
}

// lost tears down a link whose reader stopped on its own.
func (d *Serial) lost(samples chan<- RawSample) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected || d.samples != samples {
		return
	}
	d.cancel()
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
	d.connected = false
}
