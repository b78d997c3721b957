package eventloop

import (
	"net"
	"time"
)

// Context describes one received datagram. It and its Packet are only valid
// for the duration of the handler call; the buffer is recycled afterwards.
type Context struct {
	// Name is the socket name given to Bind.
	Name int
	// Conn is the socket the datagram arrived on.
	Conn *net.UDPConn
	// Created is when the datagram was read from the socket.
	Created time.Time
	// Peer is the sender.
	Peer *net.UDPAddr
	// Packet holds the datagram bytes.
	Packet []byte

	loop *Loop
}

// Reply sends b back to the sender through the receiving socket.
func (c *Context) Reply(b []byte) (int, error) {
	return c.loop.Send(c.Name, c.Peer, b)
}

// HandlerFunc handles one datagram. A returned error is logged; it never
// stops the loop.
type HandlerFunc func(ctx *Context) error

// LoopFunc runs after every dispatched datagram.
type LoopFunc func()

// CronFunc is a periodic task.
type CronFunc func()

// State is the lifecycle state of a Loop.
type State int32

const (
	// StateIdle means Run has not been called yet.
	StateIdle State = iota
	// StateRunning means Run is dispatching.
	StateRunning
	// StateStopped means Run has returned or the loop was closed.
	StateStopped
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SocketInfo identifies an open socket.
type SocketInfo struct {
	Name int
	Addr string
}
