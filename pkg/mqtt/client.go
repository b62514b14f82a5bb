package mqtt

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned when publishing before Connect succeeded.
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrRejected is returned when the circuit breaker refuses a publish.
	ErrRejected = errors.New("mqtt: publish rejected by circuit breaker")
)

// Handler receives inbound messages.
type Handler func(topic string, payload []byte)

// Client is the messaging extension point of the node.
type Client interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte) error
	Subscribe(topic string) error
	SetCallback(h Handler)
	Close()
}

// Ensure Noop implements Client.
var _ Client = Noop{}

// Ensure Paho implements Client.
var _ Client = (*Paho)(nil)

// Noop is used when messaging is disabled. Every call succeeds and does nothing.
type Noop struct{}

func (Noop) Connect(context.Context) error { return nil }
func (Noop) Publish(string, []byte) error { return nil }
func (Noop) Subscribe(string) error { return nil }
func (Noop) SetCallback(Handler) {}
func (Noop) Close() {}
