// Package udpaddr builds UDP endpoint addresses from an ip string and port.
package udpaddr

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/cyberinferno/udpev/status"
)

// Assign builds the address for ip and port. An empty ip means the IPv4
// wildcard address. Only numeric addresses are accepted; no name resolution
// is performed.
//
// Parameters:
//   - ip: Dotted IPv4 or IPv6 literal, or "" for any address
//   - port: 0 to 65535
//
// Returns:
//   - The address
//   - An error wrapping status.ErrInvalidArgument for a bad ip or port
func Assign(ip string, port int) (*net.UDPAddr, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range: %w", port, status.ErrInvalidArgument)
	}

	if ip == "" {
		return &net.UDPAddr{IP: net.IPv4zero.To4(), Port: port}, nil
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("ip %q is not a numeric address: %w", ip, status.ErrInvalidArgument)
	}

	if v4 := parsed.To4(); v4 != nil {
		parsed = v4
	}

	return &net.UDPAddr{IP: parsed, Port: port}, nil
}

// Network returns "udp4" or "udp6" to match addr.
func Network(addr *net.UDPAddr) string {
	if addr != nil && addr.IP != nil && addr.IP.To4() == nil {
		return "udp6"
	}

	return "udp4"
}

// Listen opens a UDP socket bound to addr. OS failures are classified: an
// address already in use wraps status.ErrDuplicateRegistration, descriptor or
// buffer exhaustion wraps status.ErrResourceExhausted and anything else wraps
// status.ErrIOFailure. The OS error stays in the chain.
func Listen(addr *net.UDPAddr) (*net.UDPConn, error) {
	conn, err := net.ListenUDP(Network(addr), addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w: %w", addr, bindErrorKind(err), err)
	}

	return conn, nil
}

func bindErrorKind(err error) error {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return status.ErrDuplicateRegistration
	case errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.ENOBUFS), errors.Is(err, syscall.ENOMEM):
		return status.ErrResourceExhausted
	default:
		return status.ErrIOFailure
	}
}
