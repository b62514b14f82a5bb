package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeTick uint32 = iota + 1
	TypeLinkState
	TypePublish
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// TickEvent is emitted once per control loop iteration.
type TickEvent struct {
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"ts"`
	Channel   int           `json:"channel"`
	Value     int           `json:"value"`
	Band      string        `json:"band"`
	Color     string        `json:"color"` // Color left on the LED at the end of the tick
	Link      string        `json:"link"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"` // Sample read failure, empty on success
}

// Type returns the event type identifier for TickEvent.
func (e TickEvent) Type() uint32 { return TypeTick }

// LinkStateEvent reports a change of the Wi-Fi link state.
type LinkStateEvent struct {
	State     string    `json:"state"`
	Address   string    `json:"address"`
	Polls     int       `json:"polls"`
	Timestamp time.Time `json:"ts"`
}

// Type returns the event type identifier for LinkStateEvent.
func (e LinkStateEvent) Type() uint32 { return TypeLinkState }

// PublishEvent reports the outcome of one MQTT telemetry publish.
type PublishEvent struct {
	Topic     string    `json:"topic"`
	Result    string    `json:"result"` // ok, error or rejected
	Timestamp time.Time `json:"ts"`
}

// Type returns the event type identifier for PublishEvent.
func (e PublishEvent) Type() uint32 { return TypePublish }
