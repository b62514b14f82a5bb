package wifi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os/exec"
	"time"

	"github.com/itohio/d1node/pkg/logging"
)

// commandTimeout bounds a single nmcli invocation.
const commandTimeout = 30 * time.Second

// Host is the station backed by the host's own wireless interface. Link state
// comes from the interface flags and addresses; association and hostname go
// through NetworkManager when manage is set.
type Host struct {
	iface  string
	manage bool
	logger *slog.Logger

	run        func(ctx context.Context, name string, args ...string) error
	interfaces func(name string) (*net.Interface, error)
	addrs      func(ifc *net.Interface) ([]net.Addr, error)
}

// NewHost creates a station for the named interface.
func NewHost(iface string, manage bool) *Host {
	return &Host{
		iface:      iface,
		manage:     manage,
		logger:     logging.GetLogger("wifi"),
		run:        runCommand,
		interfaces: net.InterfaceByName,
		addrs:      func(ifc *net.Interface) ([]net.Addr, error) { return ifc.Addrs() },
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// Begin asks NetworkManager to join ssid without waiting for the result.
func (h *Host) Begin(ssid, password string) error {
	if !h.manage {
		h.logger.Debug("Interface not managed, skipping association", "interface", h.iface)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	args := []string{"--wait", "0", "device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", h.iface)

	if err := h.run(ctx, "nmcli", args...); err != nil {
		return fmt.Errorf("failed to join %q on %s: %w", ssid, h.iface, err)
	}
	return nil
}

// SetHostname sets the system hostname through NetworkManager.
func (h *Host) SetHostname(name string) error {
	if !h.manage || name == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := h.run(ctx, "nmcli", "general", "hostname", name); err != nil {
		return fmt.Errorf("failed to set hostname %q: %w", name, err)
	}
	return nil
}

// Status reports Connected once the interface is up with an IPv4 address,
// Connecting while it is up without one.
func (h *Host) Status() Status {
	ifc, err := h.interfaces(h.iface)
	if err != nil || ifc.Flags&net.FlagUp == 0 {
		return Disconnected
	}
	if h.LocalAddress().IsValid() {
		return Connected
	}
	if ifc.Flags&net.FlagRunning != 0 {
		return Connecting
	}
	return Disconnected
}

// LocalAddress returns the first global IPv4 address of the interface.
func (h *Host) LocalAddress() netip.Addr {
	ifc, err := h.interfaces(h.iface)
	if err != nil {
		return netip.Addr{}
	}
	addrs, err := h.addrs(ifc)
	if err != nil {
		return netip.Addr{}
	}

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(ip4)
		if !ok || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
			continue
		}
		return addr
	}
	return netip.Addr{}
}
