package eventloop

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/udpev/logger"
	"github.com/cyberinferno/udpev/status"
	"github.com/cyberinferno/udpev/udpaddr"
)

// socket is one registration: a bound connection and its handler.
type socket struct {
	name     int
	addr     string
	conn     *net.UDPConn
	handler  HandlerFunc
	received atomic.Uint64
	sent     atomic.Uint64
}

// packet is what a reader hands to the loop: either a datagram or a receive
// error.
type packet struct {
	sock *socket
	peer *net.UDPAddr
	buf  *[]byte
	n    int
	at   time.Time
	err  error
}

// Bind opens a UDP socket on ip:port and registers handler for it under name.
//
// Parameters:
//   - name: Unique socket name, passed back in Context.Name
//   - ip: Numeric local address, or "" for every interface
//   - port: Local port; must be non-zero
//   - handler: Called on the loop goroutine for every datagram
//
// Returns:
//   - An error wrapping status.ErrInvalidArgument for port 0, a bad ip or a nil handler
//   - An error wrapping status.ErrDuplicateRegistration for a reused name or address
//   - An error wrapping status.ErrResourceExhausted or status.ErrIOFailure if the OS bind fails
func (l *Loop) Bind(name int, ip string, port int, handler HandlerFunc) error {
	if port == 0 {
		return fmt.Errorf("bind socket %d: port 0: %w", name, status.ErrInvalidArgument)
	}

	if handler == nil {
		return fmt.Errorf("bind socket %d: nil handler: %w", name, status.ErrInvalidArgument)
	}

	if l.State() == StateStopped {
		return fmt.Errorf("bind socket %d: loop stopped: %w", name, status.ErrInvalidArgument)
	}

	addr, err := udpaddr.Assign(ip, port)
	if err != nil {
		return fmt.Errorf("bind socket %d: %w", name, err)
	}

	if _, found := l.sockets.Get(name); found {
		return fmt.Errorf("bind socket %d: name in use: %w", name, status.ErrDuplicateRegistration)
	}

	key := addr.String()
	if !l.addrs.TryAdd(key) {
		return fmt.Errorf("bind socket %d: address %s in use: %w", name, key, status.ErrDuplicateRegistration)
	}

	conn, err := udpaddr.Listen(addr)
	if err != nil {
		l.addrs.Remove(key)
		l.log.Error("socket bind failed",
			logger.Field{Key: "socket", Value: name},
			logger.Field{Key: "addr", Value: key},
			logger.Field{Key: "error", Value: err},
		)
		return fmt.Errorf("bind socket %d: %w", name, err)
	}

	s := &socket{name: name, addr: key, conn: conn, handler: handler}
	if _, loaded := l.sockets.LoadOrStore(name, s); loaded {
		_ = conn.Close()
		l.addrs.Remove(key)
		return fmt.Errorf("bind socket %d: name in use: %w", name, status.ErrDuplicateRegistration)
	}

	l.readers.Go(func() error {
		l.read(s)
		return nil
	})

	l.log.Info("socket bound", logger.Field{Key: "socket", Value: name}, logger.Field{Key: "addr", Value: key})

	return nil
}

// Send writes b to dst through the socket registered as name. The datagram is
// either sent whole or the call fails.
//
// Parameters:
//   - name: A name previously passed to Bind
//   - dst: Destination address
//   - b: Datagram payload
//
// Returns:
//   - The number of bytes sent, always len(b) on success
//   - An error wrapping status.ErrNotFound for an unknown name
//   - An error wrapping status.ErrInvalidArgument for a nil destination
//   - An error wrapping status.ErrIOFailure if the write fails
func (l *Loop) Send(name int, dst *net.UDPAddr, b []byte) (int, error) {
	s, found := l.sockets.Get(name)
	if !found {
		return 0, fmt.Errorf("send on socket %d: %w", name, status.ErrNotFound)
	}

	if dst == nil {
		return 0, fmt.Errorf("send on socket %d: nil destination: %w", name, status.ErrInvalidArgument)
	}

	n, err := s.conn.WriteToUDP(b, dst)
	if err != nil {
		l.metrics.RecordIOError(name, "send")
		return 0, fmt.Errorf("send on socket %d to %s: %w: %w", name, dst, status.ErrIOFailure, err)
	}

	if n != len(b) {
		l.metrics.RecordIOError(name, "send")
		return 0, fmt.Errorf("send on socket %d to %s: short write %d of %d: %w", name, dst, n, len(b), status.ErrIOFailure)
	}

	s.sent.Add(1)
	l.metrics.RecordSent(name, n)

	return n, nil
}

// Trace logs every open socket and returns them ordered by name.
func (l *Loop) Trace() []SocketInfo {
	infos := l.socketInfos()
	for _, info := range infos {
		l.log.Info("socket open", logger.Field{Key: "socket", Value: info.Name}, logger.Field{Key: "addr", Value: info.Addr})
	}

	return infos
}

func (l *Loop) socketInfos() []SocketInfo {
	var infos []SocketInfo
	l.sockets.Range(func(name int, s *socket) bool {
		infos = append(infos, SocketInfo{Name: name, Addr: s.conn.LocalAddr().String()})
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// read runs on its own goroutine, one per socket, and feeds the inbox until
// the socket is closed. It never calls user code.
func (l *Loop) read(s *socket) {
	for {
		buf := l.buffers.Get().(*[]byte)
		n, peer, err := s.conn.ReadFromUDP(*buf)
		if err != nil {
			l.buffers.Put(buf)
			if errors.Is(err, net.ErrClosed) || l.closing() {
				return
			}

			buf = nil
		}

		p := packet{sock: s, peer: peer, buf: buf, n: n, at: time.Now(), err: err}
		select {
		case l.inbox <- p:
		case <-l.done:
			if buf != nil {
				l.buffers.Put(buf)
			}
			return
		}
	}
}
