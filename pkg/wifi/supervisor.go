package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/itohio/d1node/pkg/debuglog"
	"github.com/itohio/d1node/pkg/indicator"
	"github.com/itohio/d1node/pkg/logging"
)

// DefaultRetryInterval is the status poll interval while connecting.
const DefaultRetryInterval = 1000 * time.Millisecond

var (
	// ErrConnectTimeout is returned when the retry budget runs out before the
	// link comes up.
	ErrConnectTimeout = errors.New("wifi connect: retries exhausted")

	errLinkDown = errors.New("link not up yet")
)

// Indicator is the part of the LED driver the supervisor needs.
type Indicator interface {
	SetColor(c indicator.Color) error
}

// Credentials identify the access point and the name the node registers with.
type Credentials struct {
	SSID     string
	Password string
	Hostname string
}

// Options tune the connect retry loop.
type Options struct {
	RetryInterval time.Duration
	MaxAttempts   int    // Status polls per Connect; 0 polls until connected or cancelled
	Backoff       string // constant or exponential
}

// Supervisor establishes the station link and reports it on the indicator.
type Supervisor struct {
	station Station
	led     Indicator
	debug   *debuglog.Logger
	opts    Options
	logger  *slog.Logger

	mu    sync.RWMutex
	state Status
	polls int
}

// NewSupervisor creates a supervisor for the station.
func NewSupervisor(station Station, led Indicator, debug *debuglog.Logger, opts Options) *Supervisor {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	return &Supervisor{
		station: station,
		led:     led,
		debug:   debug,
		opts:    opts,
		logger:  logging.GetLogger("wifi"),
		state:   Disconnected,
	}
}

// Connect starts association and polls the station every retry interval
// until it reports Connected. Every unsuccessful poll turns the LED red and
// prints a dot on the debug channel. It returns ErrConnectTimeout once
// MaxAttempts polls have failed, or the context error if ctx ends first.
func (s *Supervisor) Connect(ctx context.Context, creds Credentials) error {
	if err := s.station.SetHostname(creds.Hostname); err != nil {
		s.logger.Warn("Failed to set hostname", "hostname", creds.Hostname, "error", err)
	}

	s.debug.LogLine("")
	s.debug.Log("Connecting to " + creds.SSID)

	if err := s.station.Begin(creds.SSID, creds.Password); err != nil {
		return fmt.Errorf("failed to begin association: %w", err)
	}
	s.setState(Connecting)

	attempts := 0
	op := func() error {
		attempts++
		if s.poll(true) == Connected {
			return nil
		}
		s.indicate(indicator.Red)
		s.debug.Log(".")
		return errLinkDown
	}
	notify := func(_ error, next time.Duration) {
		s.logger.Debug("Waiting for link", "ssid", creds.SSID, "attempt", attempts, "next_poll", next)
	}

	if err := backoff.RetryNotify(op, s.newBackOff(ctx), notify); err != nil {
		s.setState(Disconnected)
		s.debug.LogLine("")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("wifi connect aborted after %d polls: %w", attempts, ctxErr)
		}
		return fmt.Errorf("%w: %d polls to %q", ErrConnectTimeout, attempts, creds.SSID)
	}

	addr := s.station.LocalAddress()
	s.debug.LogLine("")
	s.debug.LogLine("WiFi connected")
	s.debug.LogLine("IP address: " + FormatAddress(addr))
	s.logger.Info("Connected", "ssid", creds.SSID, "hostname", creds.Hostname,
		"address", FormatAddress(addr), "polls", attempts)

	return nil
}

// Heartbeat polls the station once and shows green while connected, red
// otherwise.
func (s *Supervisor) Heartbeat() Status {
	st := s.poll(false)
	if st == Connected {
		s.indicate(indicator.Green)
	} else {
		s.indicate(indicator.Red)
	}
	return st
}

// State returns the most recently observed link state.
func (s *Supervisor) State() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Polls returns the number of status polls made so far.
func (s *Supervisor) Polls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.polls
}

// Address returns the station address.
func (s *Supervisor) Address() netip.Addr {
	return s.station.LocalAddress()
}

// poll queries the station once. While connecting, anything short of
// Connected keeps the state at Connecting.
func (s *Supervisor) poll(connecting bool) Status {
	st := s.station.Status()

	s.mu.Lock()
	prev := s.state
	s.state = st
	if connecting && st != Connected {
		s.state = Connecting
	}
	s.polls++
	s.mu.Unlock()

	if prev == Connected && st != Connected {
		s.logger.Warn("Link lost", "status", st.String())
	}
	return st
}

func (s *Supervisor) setState(st Status) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) indicate(c indicator.Color) {
	if s.led == nil {
		return
	}
	if err := s.led.SetColor(c); err != nil {
		s.logger.Warn("Failed to set indicator", "color", c.String(), "error", err)
	}
}

func (s *Supervisor) newBackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	switch s.opts.Backoff {
	case "exponential":
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = s.opts.RetryInterval
		eb.MaxInterval = 30 * s.opts.RetryInterval
		eb.MaxElapsedTime = 0
		b = eb
	default:
		b = backoff.NewConstantBackOff(s.opts.RetryInterval)
	}

	if s.opts.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.opts.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}
