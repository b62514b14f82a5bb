// Package node is the device context. It owns every subsystem of the board
// and runs the control loop: sample, classify, indicate, heartbeat, sleep.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itohio/d1node/pkg/board"
	"github.com/itohio/d1node/pkg/config"
	"github.com/itohio/d1node/pkg/debuglog"
	"github.com/itohio/d1node/pkg/events"
	"github.com/itohio/d1node/pkg/indicator"
	"github.com/itohio/d1node/pkg/logging"
	"github.com/itohio/d1node/pkg/mqtt"
	"github.com/itohio/d1node/pkg/sample"
	"github.com/itohio/d1node/pkg/wifi"
)

// Setup banners written to the debug channel.
const (
	SerialReady   = "Serial setup done."
	SetupComplete = "Board setup complete..."
)

// LinkDisabled is reported as the link state when Wi-Fi is off.
const LinkDisabled = "disabled"

// Options carry the collaborators of a node. Config and Board are required;
// Station is required when Wi-Fi is enabled.
type Options struct {
	Config  *config.Config
	Board   board.Board
	Station wifi.Station
	Debug   *debuglog.Logger
	MQTT    mqtt.Client // nil uses mqtt.Noop
	Bus     *events.Bus // nil creates a private bus
}

// Status is the snapshot served on the status endpoint.
type Status struct {
	Ticks     uint64    `json:"ticks"`
	Timestamp time.Time `json:"ts"`
	Channel   int       `json:"channel"`
	Value     int       `json:"value"`
	Band      string    `json:"band"`
	Color     string    `json:"color"`
	Link      string    `json:"link"`
	Address   string    `json:"address"`
	Error     string    `json:"error,omitempty"`
}

// Node is the device context.
type Node struct {
	cfg     *config.Config
	board   board.Board
	debug   *debuglog.Logger
	sampler *sample.Sampler
	led     *indicator.Driver
	sup     *wifi.Supervisor
	client  mqtt.Client
	bridge  *mqtt.Bridge
	bus     *events.Bus
	ownsBus bool
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu         sync.RWMutex
	status     Status
	link       wifi.Status
	stopBridge func()
}

// New assembles a node. Nothing touches the hardware until Setup.
func New(opts Options) (*Node, error) {
	if opts.Config == nil {
		return nil, errors.New("node: config is required")
	}
	if opts.Board == nil {
		return nil, errors.New("node: board is required")
	}
	if opts.Config.WiFi.Enabled && opts.Station == nil {
		return nil, errors.New("node: wifi enabled without a station")
	}

	n := &Node{
		cfg:    opts.Config,
		board:  opts.Board,
		debug:  opts.Debug,
		client: opts.MQTT,
		bus:    opts.Bus,
		logger: logging.GetLogger("node"),
		sleep:  sleepContext,
		now:    time.Now,
		link:   wifi.Disconnected,
	}
	if n.client == nil {
		n.client = mqtt.Noop{}
	}
	if n.bus == nil {
		n.bus = events.New()
		n.ownsBus = true
	}

	n.sampler = sample.NewSampler(n.board, n.debug)
	n.led = indicator.New(n.board)

	if opts.Config.WiFi.Enabled {
		n.sup = wifi.NewSupervisor(opts.Station, n.led, n.debug, wifi.Options{
			RetryInterval: opts.Config.WiFi.RetryInterval,
			MaxAttempts:   opts.Config.WiFi.MaxAttempts,
			Backoff:       opts.Config.WiFi.Backoff,
		})
	}
	if opts.Config.MQTT.Enabled {
		n.bridge = mqtt.NewBridge(n.client, n.bus, opts.Config.MQTT.TopicPrefix,
			opts.Config.WiFi.Hostname, opts.Config.MQTT.PublishInterval)
	}

	n.status.Channel = opts.Config.ADC.Channel
	n.status.Color = indicator.Black.String()
	n.status.Link = n.linkName()
	n.status.Address = wifi.Unset

	return n, nil
}

// Bus returns the event bus ticks are published on.
func (n *Node) Bus() *events.Bus {
	return n.bus
}

// Supervisor returns the Wi-Fi supervisor, nil when Wi-Fi is disabled.
func (n *Node) Supervisor() *wifi.Supervisor {
	return n.sup
}

// Indicator returns the LED driver.
func (n *Node) Indicator() *indicator.Driver {
	return n.led
}

// Snapshot returns the latest status.
func (n *Node) Snapshot() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Setup runs once before the loop: it opens the board, turns the LED off,
// joins Wi-Fi when enabled and connects the message client.
func (n *Node) Setup(ctx context.Context) error {
	// A blank line separates the banner from boot noise on the port.
	n.debug.LogLine("")
	n.debug.LogLine(SerialReady)

	if !n.board.IsConnected() {
		if err := n.board.Connect(); err != nil {
			return fmt.Errorf("failed to connect to board: %w", err)
		}
	}
	if err := n.led.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize indicator: %w", err)
	}

	if n.sup != nil {
		if err := n.connectWiFi(ctx); err != nil {
			return err
		}
	}

	if n.cfg.MQTT.Enabled {
		n.connectMQTT(ctx)
	}

	n.debug.LogLine(SetupComplete)
	n.logger.Info("Setup complete", "channel", n.cfg.ADC.Channel, "wifi", n.cfg.WiFi.Enabled, "mqtt", n.cfg.MQTT.Enabled)
	return nil
}

// connectWiFi runs Connect rounds until the link is up. Without retry_forever
// a failed round leaves the node running offline with the LED red.
func (n *Node) connectWiFi(ctx context.Context) error {
	creds := wifi.Credentials{
		SSID:     n.cfg.WiFi.SSID,
		Password: n.cfg.WiFi.Password,
		Hostname: n.cfg.WiFi.Hostname,
	}

	for round := 1; ; round++ {
		err := n.sup.Connect(ctx, creds)
		if err == nil {
			n.observeLink(wifi.Connected)
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		n.observeLink(n.sup.State())
		if !n.cfg.WiFi.RetryForever {
			n.logger.Warn("Continuing without Wi-Fi", "ssid", creds.SSID, "error", err)
			return nil
		}
		n.logger.Warn("Wi-Fi connect round failed, retrying", "ssid", creds.SSID, "round", round, "error", err)
	}
}

func (n *Node) connectMQTT(ctx context.Context) {
	n.client.SetCallback(func(topic string, payload []byte) {
		n.logger.Info("Message received", "topic", topic, "bytes", len(payload))
	})
	for _, topic := range n.cfg.MQTT.Subscribe {
		if err := n.client.Subscribe(topic); err != nil {
			n.logger.Warn("Failed to subscribe", "topic", topic, "error", err)
		}
	}
	if err := n.client.Connect(ctx); err != nil {
		n.logger.Warn("MQTT unavailable, reconnecting in background", "error", err)
	}

	if n.bridge != nil {
		n.mu.Lock()
		n.stopBridge = n.bridge.Start()
		n.mu.Unlock()
	}
}

// Tick runs one loop iteration in fixed order: sample and indicate the band,
// settle, heartbeat when Wi-Fi is enabled, publish the tick. The heartbeat
// color replaces the band color on the LED. A failed read is logged and the
// tick carries on; only context cancellation is returned.
func (n *Node) Tick(ctx context.Context) error {
	start := n.now()
	ch := n.cfg.ADC.Channel

	ev := events.TickEvent{
		Timestamp: start,
		Channel:   ch,
	}

	s, err := n.sampler.ReadSample(ctx, ch)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		n.logger.Warn("Sample failed", "channel", ch, "error", err)
		ev.Error = err.Error()
	} else {
		band := sample.Classify(s.Value)
		if err := n.led.SetColor(indicator.ForBand(band)); err != nil {
			n.logger.Warn("Failed to set band color", "band", band.String(), "error", err)
		}
		ev.Timestamp = s.Timestamp
		ev.Value = s.Value
		ev.Band = band.String()

		if err := n.sleep(ctx, n.cfg.Loop.Settle); err != nil {
			return err
		}
	}

	ev.Link = LinkDisabled
	if n.sup != nil {
		st := n.sup.Heartbeat()
		n.observeLink(st)
		ev.Link = st.String()
	}

	ev.Color = n.led.Current().String()
	ev.Duration = n.now().Sub(start)

	n.mu.Lock()
	n.status.Ticks++
	ev.Seq = n.status.Ticks
	n.status.Timestamp = ev.Timestamp
	n.status.Channel = ev.Channel
	n.status.Color = ev.Color
	n.status.Link = ev.Link
	n.status.Error = ev.Error
	if ev.Error == "" {
		n.status.Value = ev.Value
		n.status.Band = ev.Band
	}
	n.mu.Unlock()

	n.bus.Publish(ev)
	return nil
}

// Run performs Setup and then ticks every loop interval until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Setup(ctx); err != nil {
		return err
	}

	for {
		if err := n.Tick(ctx); err != nil {
			return err
		}
		if err := n.sleep(ctx, n.cfg.Loop.Interval); err != nil {
			return err
		}
	}
}

// Close stops telemetry, disconnects the message client and the board.
func (n *Node) Close() error {
	n.mu.Lock()
	stop := n.stopBridge
	n.stopBridge = nil
	n.mu.Unlock()

	if stop != nil {
		stop()
	}
	n.client.Close()

	err := n.board.Close()
	if n.ownsBus {
		if berr := n.bus.Close(); err == nil {
			err = berr
		}
	}
	return err
}

// observeLink records the link state and announces changes.
func (n *Node) observeLink(st wifi.Status) {
	addr := wifi.FormatAddress(n.sup.Address())

	n.mu.Lock()
	changed := st != n.link
	n.link = st
	n.status.Link = st.String()
	n.status.Address = addr
	n.mu.Unlock()

	if !changed {
		return
	}
	n.logger.Info("Link state changed", "state", st.String(), "address", addr)
	n.bus.Publish(events.LinkStateEvent{
		State:     st.String(),
		Address:   addr,
		Polls:     n.sup.Polls(),
		Timestamp: n.now(),
	})
}

func (n *Node) linkName() string {
	if n.sup == nil {
		return LinkDisabled
	}
	return n.sup.State().String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
