// Package eventloop is a single-threaded UDP runtime. One goroutine runs Run
// and executes every packet handler, session timeout callback and cron task to
// completion, one at a time. Socket readiness comes from one reader goroutine
// per bound socket feeding a bounded inbox; readers never run user code.
//
// Bind, Cron, NewTimer and the Registry returned by Timers must be used before
// Run or from callbacks running on the loop. Send, Trace, Exit, ExitLater and
// State may be called from any goroutine.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/udpev/logger"
	"github.com/cyberinferno/udpev/metrics"
	"github.com/cyberinferno/udpev/recovery"
	"github.com/cyberinferno/udpev/safemap"
	"github.com/cyberinferno/udpev/safeset"
	"github.com/cyberinferno/udpev/stats"
	"github.com/cyberinferno/udpev/status"
	"github.com/cyberinferno/udpev/timer"
	"golang.org/x/sync/errgroup"
)

// MaxDatagramSize is the largest UDP payload.
const MaxDatagramSize = 65535

// Config sizes the loop's queues and buffers.
type Config struct {
	// InboxSize bounds the datagrams read but not yet dispatched, across all
	// sockets. Readers block when it is full and the kernel queue absorbs the rest.
	InboxSize int
	// BufferSize is the receive buffer per datagram. Longer datagrams are truncated.
	BufferSize int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		InboxSize:  1024,
		BufferSize: MaxDatagramSize,
	}
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger for the loop and everything it recovers.
func WithLogger(l logger.Logger) Option {
	return func(loop *Loop) { loop.log = l }
}

// WithMetrics records loop, socket and session metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(loop *Loop) { loop.metrics = m }
}

// WithClock replaces time.Now for deadlines, cron scheduling and timers.
func WithClock(now func() time.Time) Option {
	return func(loop *Loop) { loop.now = now }
}

// Loop owns sockets, timers and cron tasks, and dispatches their events.
type Loop struct {
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	sockets *safemap.SafeMap[int, *socket]
	addrs   *safeset.SafeSet[string]
	readers errgroup.Group
	inbox   chan packet
	buffers sync.Pool

	timers *timer.Registry
	crons  cronQueue

	state  atomic.Int32
	exit   atomic.Bool
	exitAt atomic.Pointer[time.Time]
	wake   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// New creates an idle loop.
//
// Parameters:
//   - cfg: Queue and buffer sizes; zero fields take the defaults
//   - opts: Logger, metrics and clock options
//
// Returns:
//   - The new Loop
func New(cfg Config, opts ...Option) *Loop {
	def := DefaultConfig()
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}

	if cfg.BufferSize <= 0 || cfg.BufferSize > MaxDatagramSize {
		cfg.BufferSize = def.BufferSize
	}

	l := &Loop{
		cfg:     cfg,
		log:     logger.NewNopLogger(),
		now:     time.Now,
		sockets: safemap.NewSafeMap[int, *socket](),
		addrs:   safeset.NewSafeSet[string](),
		inbox:   make(chan packet, cfg.InboxSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.log == nil {
		l.log = logger.NewNopLogger()
	}

	size := cfg.BufferSize
	l.buffers.New = func() any {
		b := make([]byte, size)
		return &b
	}

	regOpts := []timer.Option{timer.WithClock(l.now), timer.WithLogger(l.log)}
	if l.metrics != nil {
		regOpts = append(regOpts, timer.WithObserver(l.metrics))
	}
	l.timers = timer.NewRegistry(regOpts...)

	return l
}

// Timers returns the loop's session timer registry.
func (l *Loop) Timers() *timer.Registry {
	return l.timers
}

// NewTimer creates a session timer swept by this loop.
func (l *Loop) NewTimer(timeout time.Duration, sessionSize int, onTimeout timer.TimeoutFunc) (*timer.Timer, error) {
	return l.timers.NewTimer(timeout, sessionSize, onTimeout)
}

// Cron schedules fn to run every period, first at now+period. After each run
// it is re-armed for the time the run finished plus period. Crons cannot be
// cancelled.
//
// Returns:
//   - An error wrapping status.ErrInvalidArgument for a non-positive period or nil fn
func (l *Loop) Cron(period time.Duration, fn CronFunc) error {
	if period <= 0 {
		return fmt.Errorf("cron period %s: %w", period, status.ErrInvalidArgument)
	}

	if fn == nil {
		return fmt.Errorf("nil cron task: %w", status.ErrInvalidArgument)
	}

	l.crons.add(&cron{period: period, next: l.now().Add(period), fn: fn})

	return nil
}

// Exit makes Run return at the start of its next iteration.
func (l *Loop) Exit() {
	l.exit.Store(true)
	l.nudge()
}

// ExitLater makes Run return once d has elapsed, even with nothing else to do.
// Only the first call arms the deadline; later calls are ignored.
//
// Returns:
//   - false if a deadline was already armed
func (l *Loop) ExitLater(d time.Duration) bool {
	at := l.now().Add(d)
	if !l.exitAt.CompareAndSwap(nil, &at) {
		return false
	}

	l.nudge()
	return true
}

// State returns the loop's lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run dispatches events until Exit is called, an ExitLater deadline passes,
// ctx is done or the loop is closed. hook, if not nil, runs after every
// dispatched datagram. A loop can be run once.
//
// Returns:
//   - nil on Exit, ExitLater or Close
//   - ctx.Err() if ctx ended the loop
//   - An error wrapping status.ErrInvalidArgument if the loop is not idle
func (l *Loop) Run(ctx context.Context, hook LoopFunc) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("run loop in state %s: %w", l.State(), status.ErrInvalidArgument)
	}
	defer l.state.Store(int32(StateStopped))

	l.log.Info("event loop started", logger.Field{Key: "sockets", Value: l.sockets.Len()})
	defer l.log.Info("event loop stopped")

	wait := time.NewTimer(time.Hour)
	wait.Stop()
	defer wait.Stop()

	for {
		now := l.now()
		if l.shouldExit(now) {
			return nil
		}

		l.timers.Expire(now)
		l.fireCrons(now)

		if l.shouldExit(l.now()) {
			return nil
		}

		var expired <-chan time.Time
		if deadline, ok := l.nextDeadline(); ok {
			wait.Reset(max(deadline.Sub(l.now()), 0))
			expired = wait.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		case <-expired:
		case p := <-l.inbox:
			l.dispatch(p, hook)
		}

		wait.Stop()
		l.metrics.RecordIteration()
	}
}

// Snapshot captures the loop's sockets, timers and crons.
func (l *Loop) Snapshot() stats.Snapshot {
	s := stats.Snapshot{
		Time:  l.now(),
		State: l.State().String(),
		Crons: len(l.crons),
	}

	l.sockets.Range(func(name int, sock *socket) bool {
		s.Sockets = append(s.Sockets, stats.SocketStats{
			Name:     name,
			Addr:     sock.conn.LocalAddr().String(),
			Received: sock.received.Load(),
			Sent:     sock.sent.Load(),
		})
		return true
	})

	for _, t := range l.timers.Timers() {
		s.Timers = append(s.Timers, stats.TimerStats{
			Name:        t.Name(),
			Timeout:     t.Timeout(),
			SessionSize: t.SessionSize(),
			Live:        t.Count(),
		})
	}

	return s
}

// Close stops a running loop, closes every socket and waits for the readers
// to finish. It is safe to call more than once.
//
// Returns:
//   - The joined socket close errors, if any
func (l *Loop) Close() error {
	var errs []error
	l.closeOnce.Do(func() {
		close(l.done)
		l.state.CompareAndSwap(int32(StateIdle), int32(StateStopped))

		l.sockets.Range(func(name int, s *socket) bool {
			if err := s.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close socket %d: %w", name, err))
			}
			return true
		})

		_ = l.readers.Wait()
	})

	return errors.Join(errs...)
}

func (l *Loop) closing() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Loop) nudge() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) shouldExit(now time.Time) bool {
	if l.exit.Load() {
		return true
	}

	at := l.exitAt.Load()
	return at != nil && !now.Before(*at)
}

// nextDeadline is the soonest of the session, cron and exit deadlines.
func (l *Loop) nextDeadline() (time.Time, bool) {
	next, found := l.timers.NextDeadline()

	if c := l.crons.peek(); c != nil && (!found || c.next.Before(next)) {
		next, found = c.next, true
	}

	if at := l.exitAt.Load(); at != nil && (!found || at.Before(next)) {
		next, found = *at, true
	}

	return next, found
}

func (l *Loop) fireCrons(now time.Time) {
	for {
		c := l.crons.peek()
		if c == nil || c.next.After(now) {
			return
		}

		c.runs++
		recovery.Guard(l.log, "cron", c.fn, logger.Field{Key: "period", Value: c.period.String()})
		l.metrics.RecordCronRun()

		c.next = l.now().Add(c.period)
		l.crons.rearm()
	}
}

func (l *Loop) dispatch(p packet, hook LoopFunc) {
	name := p.sock.name
	if p.err != nil {
		l.metrics.RecordIOError(name, "recv")
		l.log.Warn("socket receive failed", logger.Field{Key: "socket", Value: name}, logger.Field{Key: "error", Value: p.err})
		return
	}
	defer l.buffers.Put(p.buf)

	p.sock.received.Add(1)
	l.metrics.RecordReceived(name, p.n)

	ctx := &Context{
		Name:    name,
		Conn:    p.sock.conn,
		Created: p.at,
		Peer:    p.peer,
		Packet:  (*p.buf)[:p.n],
		loop:    l,
	}

	var err error
	if r := recovery.Guard(l.log, "handler", func() { err = p.sock.handler(ctx) }, logger.Field{Key: "socket", Value: name}); r != nil {
		l.metrics.RecordHandlerError(name)
	} else if err != nil {
		l.metrics.RecordHandlerError(name)
		l.log.Warn("handler failed",
			logger.Field{Key: "socket", Value: name},
			logger.Field{Key: "peer", Value: p.peer.String()},
			logger.Field{Key: "error", Value: err},
		)
	}

	if hook != nil {
		recovery.Guard(l.log, "loop hook", hook)
	}
}
