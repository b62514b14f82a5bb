package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itohio/d1node/pkg/events"
	"github.com/itohio/d1node/pkg/logging"
)

// Publish results reported on the bus.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
)

// Telemetry is the JSON document published for a tick.
type Telemetry struct {
	TS      int64  `json:"ts"` // Unix milliseconds
	Channel int    `json:"channel"`
	Value   int    `json:"value"`
	Band    string `json:"band"`
	Color   string `json:"color"`
	Link    string `json:"link"`
}

// Bridge publishes tick readings as telemetry, at most once per interval.
type Bridge struct {
	client   Client
	bus      *events.Bus
	topic    string
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// NewBridge creates a bridge publishing to <prefix>/<hostname>/sample.
func NewBridge(client Client, bus *events.Bus, prefix, hostname string, interval time.Duration) *Bridge {
	return &Bridge{
		client:   client,
		bus:      bus,
		topic:    fmt.Sprintf("%s/%s/sample", prefix, hostname),
		interval: interval,
		logger:   logging.GetLogger("mqtt"),
	}
}

// Topic returns the telemetry topic.
func (b *Bridge) Topic() string {
	return b.topic
}

// Start subscribes the bridge to tick events. The returned function stops it.
func (b *Bridge) Start() func() {
	return b.bus.Subscribe(func(e events.TickEvent) {
		b.Handle(e)
	})
}

// Handle publishes the tick unless the sample failed or the previous publish
// is less than one interval old. It reports whether a publish was attempted.
func (b *Bridge) Handle(e events.TickEvent) bool {
	if e.Error != "" {
		return false
	}

	b.mu.Lock()
	if !b.last.IsZero() && e.Timestamp.Sub(b.last) < b.interval {
		b.mu.Unlock()
		return false
	}
	b.last = e.Timestamp
	b.mu.Unlock()

	payload, err := json.Marshal(Telemetry{
		TS:      e.Timestamp.UnixMilli(),
		Channel: e.Channel,
		Value:   e.Value,
		Band:    e.Band,
		Color:   e.Color,
		Link:    e.Link,
	})
	if err != nil {
		b.logger.Error("Failed to encode telemetry", "error", err)
		return false
	}

	result := ResultOK
	if err := b.client.Publish(b.topic, payload); err != nil {
		result = ResultError
		if errors.Is(err, ErrRejected) {
			result = ResultRejected
		}
		b.logger.Warn("Failed to publish telemetry", "topic", b.topic, "error", err)
	}

	b.bus.Publish(events.PublishEvent{
		Topic:     b.topic,
		Result:    result,
		Timestamp: e.Timestamp,
	})
	return true
}
