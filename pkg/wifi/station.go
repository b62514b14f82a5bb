package wifi

import (
	"net/netip"
	"strconv"
)

// Status is the link state reported by a station.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Station is a Wi-Fi client in station mode.
type Station interface {
	Begin(ssid, password string) error
	Status() Status
	LocalAddress() netip.Addr // Zero value when no address is assigned
	SetHostname(name string) error
}

// Ensure Host implements Station.
var _ Station = (*Host)(nil)

// Ensure Mock implements Station.
var _ Station = (*Mock)(nil)

// Unset is rendered in place of a missing address.
const Unset = "(IP unset)"

// FormatAddress renders an IPv4 address as dotted decimal, or Unset when no
// address is assigned (the zero value or 0.0.0.0).
func FormatAddress(addr netip.Addr) string {
	if !addr.IsValid() || addr.IsUnspecified() {
		return Unset
	}
	if !addr.Is4() && !addr.Is4In6() {
		return addr.String()
	}

	b := addr.As4()
	buf := make([]byte, 0, 15)
	for i, octet := range b {
		if i > 0 {
			buf = append(buf, '.')
		}
		buf = strconv.AppendUint(buf, uint64(octet), 10)
	}
	return string(buf)
}
