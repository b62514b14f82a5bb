package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/itohio/d1node/pkg/logging"
	"github.com/sony/gobreaker"
)

const (
	// DefaultConnectTimeout bounds a single connect or publish round trip.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultMaxRetries is the number of connect attempts.
	DefaultMaxRetries = 5
	// DefaultReconnectInterval caps the delay between background reconnects.
	DefaultReconnectInterval = time.Minute

	disconnectQuiesce = 250 // ms
)

// Options configure the paho client.
type Options struct {
	Broker          string
	ClientID        string // Empty generates d1node-<uuid>
	Username        string
	Password        string
	ConnectTimeout  time.Duration
	MaxRetries      int
	BreakerFailures int
	BreakerTimeout  time.Duration

	ReconnectInterval time.Duration // Max delay between background reconnects
}

// Paho is a Client backed by the Eclipse paho MQTT client. Connect retries
// with exponential backoff; publishes pass through a circuit breaker so a dead
// broker fails fast instead of stalling the caller.
type Paho struct {
	opts     Options
	clientID string
	logger   *slog.Logger
	cb       *gobreaker.CircuitBreaker

	newClient    func(o *paho.ClientOptions) paho.Client
	retryInitial time.Duration

	done context.Context
	stop context.CancelFunc

	mu           sync.RWMutex
	client       paho.Client
	callback     Handler
	topics       []string
	reconnecting bool
}

// NewPaho creates an unconnected client.
func NewPaho(opts Options) *Paho {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 3
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "d1node-" + uuid.NewString()
	}

	p := &Paho{
		opts:         opts,
		clientID:     clientID,
		logger:       logging.GetLogger("mqtt"),
		newClient:    paho.NewClient,
		retryInitial: backoff.DefaultInitialInterval,
	}
	p.done, p.stop = context.WithCancel(context.Background())
	p.cb = p.newBreaker()
	return p
}

func (p *Paho) newBreaker() *gobreaker.CircuitBreaker {
	fails := uint32(p.opts.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-publish",
		Timeout: p.opts.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// ClientID returns the MQTT client identifier.
func (p *Paho) ClientID() string {
	return p.clientID
}

func (p *Paho) clientOptions() *paho.ClientOptions {
	o := paho.NewClientOptions()
	o.AddBroker(p.opts.Broker)
	o.SetClientID(p.clientID)
	o.SetUsername(p.opts.Username)
	o.SetPassword(p.opts.Password)
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectTimeout(p.opts.ConnectTimeout)
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Warn("Connection lost", "broker", p.opts.Broker, "error", err)
	})
	o.SetOnConnectHandler(func(c paho.Client) {
		p.resubscribe(c)
	})
	return o
}

// Connect dials the broker, retrying with exponential backoff up to
// MaxRetries attempts. Topics registered with Subscribe are (re)subscribed
// on every successful connection. When every attempt fails Connect returns
// the error and keeps dialing in the background until it succeeds or the
// client is closed.
func (p *Paho) Connect(ctx context.Context) error {
	client, attempts, err := p.dial(ctx, p.opts.MaxRetries)
	if err != nil {
		if ctx.Err() == nil {
			p.reconnect()
		}
		return fmt.Errorf("could not establish MQTT connection after %d attempts: %w", attempts, err)
	}
	p.install(client)
	return nil
}

// dial makes up to retries connect attempts, unlimited when retries is 0.
func (p *Paho) dial(ctx context.Context, retries int) (paho.Client, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryInitial
	bo.MaxInterval = p.opts.ReconnectInterval
	bo.MaxElapsedTime = 0

	var policy backoff.BackOff = bo
	if retries > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(retries-1))
	}

	attempt := 0
	var client paho.Client
	err := backoff.Retry(func() error {
		attempt++
		c := p.newClient(p.clientOptions())
		token := c.Connect()
		if !token.WaitTimeout(p.opts.ConnectTimeout) {
			// The attempt may still complete later and fight the next one
			// for the client id.
			c.Disconnect(0)
			p.logger.Warn("Connect timed out", "broker", p.opts.Broker, "attempt", attempt)
			return fmt.Errorf("connect to %s timed out", p.opts.Broker)
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("Failed to connect to MQTT broker", "broker", p.opts.Broker, "attempt", attempt, "error", err)
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(policy, ctx))
	return client, attempt, err
}

// install makes client the active connection unless the Paho was closed.
func (p *Paho) install(client paho.Client) {
	p.mu.Lock()
	if p.done.Err() != nil {
		p.mu.Unlock()
		client.Disconnect(disconnectQuiesce)
		return
	}
	p.client = client
	p.mu.Unlock()

	p.logger.Info("Connected to MQTT broker", "broker", p.opts.Broker, "client_id", p.clientID)
}

// reconnect starts a background dial loop unless one is running.
func (p *Paho) reconnect() {
	p.mu.Lock()
	if p.reconnecting || p.done.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.reconnecting = true
	p.mu.Unlock()

	p.logger.Info("Reconnecting to MQTT broker in background", "broker", p.opts.Broker)
	go func() {
		defer func() {
			p.mu.Lock()
			p.reconnecting = false
			p.mu.Unlock()
		}()

		client, _, err := p.dial(p.done, 0)
		if err != nil {
			return
		}
		p.install(client)
	}()
}

// Publish sends payload to topic with QoS 0.
func (p *Paho) Publish(topic string, payload []byte) error {
	client := p.current()
	if client == nil {
		return ErrNotConnected
	}

	_, err := p.cb.Execute(func() (interface{}, error) {
		token := client.Publish(topic, 0, false, payload)
		if !token.WaitTimeout(p.opts.ConnectTimeout) {
			return nil, fmt.Errorf("publish to %s timed out", topic)
		}
		return nil, token.Error()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe registers topic for inbound messages. Before Connect the topic
// is remembered and subscribed once the connection is up.
func (p *Paho) Subscribe(topic string) error {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	client := p.client
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	return p.subscribe(client, topic)
}

// SetCallback sets the handler for inbound messages.
func (p *Paho) SetCallback(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = h
}

// Close disconnects from the broker and stops background reconnects.
func (p *Paho) Close() {
	p.stop()

	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(disconnectQuiesce)
		p.logger.Info("MQTT client disconnected")
	}
}

func (p *Paho) current() paho.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

func (p *Paho) resubscribe(c paho.Client) {
	p.mu.RLock()
	topics := append([]string(nil), p.topics...)
	p.mu.RUnlock()

	for _, topic := range topics {
		if err := p.subscribe(c, topic); err != nil {
			p.logger.Warn("Failed to subscribe", "topic", topic, "error", err)
		}
	}
}

func (p *Paho) subscribe(c paho.Client, topic string) error {
	token := c.Subscribe(topic, 0, p.onMessage)
	if !token.WaitTimeout(p.opts.ConnectTimeout) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	p.logger.Debug("Subscribed", "topic", topic)
	return nil
}

func (p *Paho) onMessage(_ paho.Client, msg paho.Message) {
	p.mu.RLock()
	h := p.callback
	p.mu.RUnlock()

	if h == nil {
		p.logger.Debug("No handler set", "topic", msg.Topic())
		return
	}
	h(msg.Topic(), msg.Payload())
}
