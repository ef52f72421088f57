package relaycore

import (
	"fmt"
	"net"
	"strconv"

	"github.com/relaymesh/relay/internal/wire"
)

// ParseHostPort resolves a bare host (no port) plus an explicit port into
// a wire.Address, used for this relay's own bind address.
func ParseHostPort(host string, port uint16) (wire.Address, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return wire.Address{}, fmt.Errorf("relaycore: resolve %q: %w", host, err)
		}
		ip = resolved.IP
	}
	return wire.AddressFromUDP(&net.UDPAddr{IP: ip, Port: int(port)}), nil
}

// ParseHostPortString resolves a "host:port" string into a wire.Address,
// used for decoding the peer list a heartbeat response carries.
func ParseHostPortString(hostport string) (wire.Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return wire.Address{}, fmt.Errorf("relaycore: split %q: %w", hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return wire.Address{}, fmt.Errorf("relaycore: port %q: %w", hostport, err)
	}
	return ParseHostPort(host, uint16(port))
}
