// Package ratelimit throttles datagrams per sender address with token buckets.
// Buckets live in an in-memory cache and are evicted after a peer has been idle
// for the configured TTL.
package ratelimit

import (
	"sync/atomic"
	"time"

	"github.com/cyberinferno/udpev/eventloop"
	"github.com/cyberinferno/udpev/logger"
	"github.com/cyberinferno/udpev/metrics"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Config sets the per-peer budget.
type Config struct {
	// PerSecond is the sustained datagram rate allowed per peer.
	PerSecond float64
	// Burst is how many datagrams a peer may send at once.
	Burst int
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger reports dropped datagrams at debug level.
func WithLogger(l logger.Logger) Option {
	return func(lim *Limiter) { lim.log = l }
}

// WithMetrics counts dropped datagrams.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lim *Limiter) { lim.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(lim *Limiter) { lim.now = now }
}

// Limiter holds one token bucket per peer.
type Limiter struct {
	cfg     Config
	buckets *cache.Cache
	group   singleflight.Group
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	dropped atomic.Uint64
}

// New creates a Limiter. A non-positive IdleTTL defaults to one minute and a
// Burst below one to one.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Minute
	}

	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	l := &Limiter{
		cfg:     cfg,
		buckets: cache.New(cfg.IdleTTL, cfg.IdleTTL*2),
		log:     logger.NewNopLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow reports whether peer may send one more datagram now.
func (l *Limiter) Allow(peer string) bool {
	return l.bucket(peer).AllowN(l.now(), 1)
}

// Peers returns the number of buckets currently cached.
func (l *Limiter) Peers() int {
	return l.buckets.ItemCount()
}

// Dropped returns how many datagrams Wrap has discarded.
func (l *Limiter) Dropped() uint64 {
	return l.dropped.Load()
}

// Wrap returns a handler that calls h only for datagrams within the sender's
// budget. Dropped datagrams are not an error.
func (l *Limiter) Wrap(h eventloop.HandlerFunc) eventloop.HandlerFunc {
	return func(ctx *eventloop.Context) error {
		peer := ctx.Peer.String()
		if l.Allow(peer) {
			return h(ctx)
		}

		l.dropped.Add(1)
		l.metrics.RecordDropped(ctx.Name, "rate_limited")
		l.log.Debug("datagram rate limited",
			logger.Field{Key: "socket", Value: ctx.Name},
			logger.Field{Key: "peer", Value: peer},
		)

		return nil
	}
}

// bucket returns the peer's token bucket, creating it on first use. Each
// access pushes the bucket's eviction out by IdleTTL.
func (l *Limiter) bucket(peer string) *rate.Limiter {
	if v, found := l.buckets.Get(peer); found {
		if b, ok := v.(*rate.Limiter); ok {
			l.buckets.Set(peer, b, cache.DefaultExpiration)
			return b
		}
	}

	v, _, _ := l.group.Do(peer, func() (interface{}, error) {
		if cached, found := l.buckets.Get(peer); found {
			if b, ok := cached.(*rate.Limiter); ok {
				return b, nil
			}
		}

		b := rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)
		l.buckets.Set(peer, b, cache.DefaultExpiration)
		return b, nil
	})

	return v.(*rate.Limiter)
}
