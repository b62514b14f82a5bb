package wifi

import (
	"net/netip"
	"sync"
)

// Mock is a scripted station. Each Status call consumes the next scripted
// state; the last one repeats.
type Mock struct {
	mu       sync.Mutex
	script   []Status
	polls    int
	last     Status
	addr     netip.Addr
	ssid     string
	hostname string
	begins   int
	beginErr error
}

// NewMock creates a station that reports the scripted states in order and
// addr while connected.
func NewMock(addr netip.Addr, script ...Status) *Mock {
	return &Mock{addr: addr, script: script}
}

// SetScript replaces the remaining script.
func (m *Mock) SetScript(script ...Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
	m.polls = 0
}

// FailBegin makes subsequent Begin calls return err.
func (m *Mock) FailBegin(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginErr = err
}

// Begin records the credentials.
func (m *Mock) Begin(ssid, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beginErr != nil {
		return m.beginErr
	}
	m.ssid = ssid
	m.begins++
	return nil
}

// Status returns the next scripted state.
func (m *Mock) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Disconnected
	if len(m.script) > 0 {
		i := min(m.polls, len(m.script)-1)
		st = m.script[i]
	}
	m.polls++
	m.last = st
	return st
}

// LocalAddress returns the address while the last polled state is Connected.
func (m *Mock) LocalAddress() netip.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last != Connected {
		return netip.Addr{}
	}
	return m.addr
}

// SetHostname records the hostname.
func (m *Mock) SetHostname(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostname = name
	return nil
}

// Polls returns how many times Status was called since the last SetScript.
func (m *Mock) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// Joined returns the SSID, hostname and number of Begin calls seen so far.
func (m *Mock) Joined() (ssid, hostname string, begins int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ssid, m.hostname, m.begins
}
