// Package server assembles a runnable udpev service from a config: the event
// loop with its sockets, a per-peer session tracker, optional rate limiting,
// the Prometheus endpoint and periodic stats publishing.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cyberinferno/udpev/config"
	"github.com/cyberinferno/udpev/eventloop"
	"github.com/cyberinferno/udpev/logger"
	"github.com/cyberinferno/udpev/metrics"
	"github.com/cyberinferno/udpev/ratelimit"
	"github.com/cyberinferno/udpev/stats"
	"github.com/cyberinferno/udpev/timer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Server is a configured udpev service.
type Server struct {
	cfg *config.Config
	log logger.Logger

	loop     *eventloop.Loop
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	limiter  *ratelimit.Limiter
	reporter *stats.Reporter
	redis    *redis.Client

	httpServer *http.Server
	listener   net.Listener

	// Session tracking, touched only on the loop goroutine.
	sessions *timer.Timer
	peers    map[string]uint32
	bySeq    map[uint32]string
}

// New builds a Server and binds its sockets and metrics listener. Nothing is
// served until Run.
//
// Parameters:
//   - cfg: A validated configuration
//   - log: Logger for the server and everything it owns
//
// Returns:
//   - The Server
//   - An error if a socket or the metrics listener cannot be bound
func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	s := &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  metrics.NewMetricsWithRegistry(registry),
		peers:    make(map[string]uint32),
		bySeq:    make(map[uint32]string),
	}

	s.loop = eventloop.New(eventloop.Config{
		InboxSize:  cfg.Loop.InboxSize,
		BufferSize: cfg.Loop.BufferSize,
	}, eventloop.WithLogger(log), eventloop.WithMetrics(s.metrics))

	sessions, err := s.loop.NewTimer(cfg.Sessions.Timeout, cfg.Sessions.Size, s.sessionExpired)
	if err != nil {
		return nil, fmt.Errorf("failed to create session timer: %w", err)
	}
	s.sessions = sessions

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{
			PerSecond: cfg.RateLimit.PerSecond,
			Burst:     cfg.RateLimit.Burst,
			IdleTTL:   cfg.RateLimit.IdleTTL,
		}, ratelimit.WithLogger(log), ratelimit.WithMetrics(s.metrics))
	}

	if err := s.setupStats(); err != nil {
		_ = s.Close()
		return nil, err
	}

	for _, sc := range cfg.Sockets {
		if err := s.loop.Bind(sc.Name, sc.IP, sc.Port, s.handler(sc.Mode)); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to bind socket: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", cfg.Metrics.Address)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to listen for metrics: %w", err)
		}

		s.listener = ln
		s.httpServer = &http.Server{
			Handler:           metrics.Handler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if cfg.Loop.ExitAfter > 0 {
		s.loop.ExitLater(cfg.Loop.ExitAfter)
	}

	return s, nil
}

func (s *Server) setupStats() error {
	if s.cfg.Stats.Interval <= 0 {
		return nil
	}

	publishers := []stats.Publisher{stats.NewLogPublisher(s.log)}
	if rc := s.cfg.Stats.Redis; rc.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		publishers = append(publishers, stats.NewRedisPublisher(s.redis, rc.Key, rc.TTL))
	}

	s.reporter = stats.NewReporter(s.log, s.cfg.Stats.QueueDepth, s.cfg.Stats.PublishTimeout, publishers...)

	return s.loop.Cron(s.cfg.Stats.Interval, func() {
		if !s.reporter.Offer(s.loop.Snapshot()) {
			s.log.Warn("stats queue full, snapshot dropped")
		}
	})
}

// Loop returns the server's event loop.
func (s *Server) Loop() *eventloop.Loop {
	return s.loop
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Run serves until Stop, the configured exit delay, ctx cancellation or a
// metrics server failure.
//
// Returns:
//   - nil on a clean stop
//   - The first failure of the loop or the metrics server
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if s.httpServer != nil {
		g.Go(func() error {
			s.log.Info("metrics server started", logger.Field{Key: "addr", Value: s.MetricsAddr()})
			if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.httpServer.Shutdown(shutdownCtx)
		})
	}

	if s.reporter != nil {
		g.Go(func() error {
			return s.reporter.Run(gctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		s.loop.Trace()

		err := s.loop.Run(gctx, nil)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}

// Stop asks the loop to exit. It is safe to call from any goroutine.
func (s *Server) Stop() {
	s.loop.Exit()
}

// Close releases sockets and the Redis client.
func (s *Server) Close() error {
	var errs []error

	if err := s.loop.Close(); err != nil {
		errs = append(errs, err)
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close metrics listener: %w", err))
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	return errors.Join(errs...)
}

// handler builds the handler for a socket mode, rate limited when enabled.
func (s *Server) handler(mode string) eventloop.HandlerFunc {
	h := func(ctx *eventloop.Context) error {
		if err := s.touch(ctx.Peer.String()); err != nil {
			return err
		}

		if mode == "echo" {
			_, err := ctx.Reply(ctx.Packet)
			return err
		}

		return nil
	}

	if s.limiter != nil {
		return s.limiter.Wrap(h)
	}

	return h
}

// touch counts a datagram against peer's session, opening one if needed. The
// session is not extended; it expires Sessions.Timeout after it was opened.
func (s *Server) touch(peer string) error {
	if seq, ok := s.peers[peer]; ok {
		payload, err := s.loop.Timers().Get(seq)
		if err == nil {
			countPacket(payload)
			return nil
		}

		delete(s.peers, peer)
		delete(s.bySeq, seq)
	}

	_, seq, err := s.sessions.Add(encodeSession(peer, s.cfg.Sessions.Size))
	if err != nil {
		return fmt.Errorf("open session for %s: %w", peer, err)
	}

	s.peers[peer] = seq
	s.bySeq[seq] = peer

	return nil
}

func (s *Server) sessionExpired(payload []byte) {
	seq, err := s.loop.Timers().SequenceOf(payload)
	if err != nil {
		s.log.Warn("expired session has no sequence", logger.Field{Key: "error", Value: err})
		return
	}

	peer, ok := s.bySeq[seq]
	if !ok {
		peer = sessionPeer(payload)
	}
	delete(s.bySeq, seq)
	delete(s.peers, peer)

	s.log.Debug("session expired",
		logger.Field{Key: "peer", Value: peer},
		logger.Field{Key: "sequence", Value: seq},
		logger.Field{Key: "packets", Value: sessionPackets(payload)},
	)
}
