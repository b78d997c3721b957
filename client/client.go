// Package client provides a blocking UDP endpoint for request/response use
// outside the event loop: send a datagram, then wait a bounded time for a
// reply. A receive that times out is not a failure; it reports status.ErrTimeout
// with zero bytes so callers can tell "nothing arrived" from a broken socket.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cyberinferno/udpev/status"
	"github.com/cyberinferno/udpev/udpaddr"
)

// Context records the last datagram received by a Conn.
type Context struct {
	Created time.Time
	Peer    *net.UDPAddr
	Packet  []byte
}

// Conn is a bound UDP socket. It is safe for concurrent use.
type Conn struct {
	conn *net.UDPConn

	mu     sync.Mutex
	last   Context
	closed bool
}

// NewConn binds a socket on ip:port.
//
// Parameters:
//   - ip: Numeric local address, or "" for every interface
//   - port: Local port; 0 picks an ephemeral port
//
// Returns:
//   - The bound Conn
//   - An error wrapping status.ErrInvalidArgument, status.ErrDuplicateRegistration,
//     status.ErrResourceExhausted or status.ErrIOFailure
func NewConn(ip string, port int) (*Conn, error) {
	addr, err := udpaddr.Assign(ip, port)
	if err != nil {
		return nil, err
	}

	conn, err := udpaddr.Listen(addr)
	if err != nil {
		return nil, err
	}

	return &Conn{conn: conn}, nil
}

// LocalAddr returns the bound address.
func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes b to dst as one datagram.
//
// Returns:
//   - len(b) on success
//   - An error wrapping status.ErrInvalidArgument for a nil destination
//   - An error wrapping status.ErrIOFailure if the write fails or is short
func (c *Conn) Send(dst *net.UDPAddr, b []byte) (int, error) {
	if dst == nil {
		return 0, fmt.Errorf("send: nil destination: %w", status.ErrInvalidArgument)
	}

	n, err := c.conn.WriteToUDP(b, dst)
	if err != nil {
		return 0, fmt.Errorf("send to %s: %w: %w", dst, status.ErrIOFailure, err)
	}

	if n != len(b) {
		return 0, fmt.Errorf("send to %s: short write %d of %d: %w", dst, n, len(b), status.ErrIOFailure)
	}

	return n, nil
}

// Recv waits up to timeout for one datagram and copies it into buf. A
// non-positive timeout waits indefinitely. Datagrams longer than buf are
// truncated.
//
// Returns:
//   - The number of bytes read and the sender
//   - 0, nil and an error wrapping status.ErrTimeout if nothing arrived in time
//   - An error wrapping status.ErrIOFailure if the socket failed or is closed
func (c *Conn) Recv(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, fmt.Errorf("recv: %w: %w", status.ErrIOFailure, err)
	}

	n, from, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil, fmt.Errorf("recv after %s: %w", timeout, status.ErrTimeout)
		}

		return 0, nil, fmt.Errorf("recv: %w: %w", status.ErrIOFailure, err)
	}

	c.mu.Lock()
	c.last = Context{
		Created: time.Now(),
		Peer:    from,
		Packet:  append(c.last.Packet[:0], buf[:n]...),
	}
	c.mu.Unlock()

	return n, from, nil
}

// Last returns a copy of the most recently received datagram.
func (c *Conn) Last() Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.last
	last.Packet = append([]byte(nil), c.last.Packet...)
	return last
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.conn.Close()
}
