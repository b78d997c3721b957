package stats

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/udpev/logger"
	"golang.org/x/sync/errgroup"
)

// Reporter hands snapshots from the loop goroutine to publishers running on
// their own goroutine. Offer never blocks; when the queue is full the snapshot
// is dropped and counted.
type Reporter struct {
	log        logger.Logger
	publishers []Publisher
	timeout    time.Duration
	queue      chan Snapshot
	dropped    atomic.Uint64
	published  atomic.Uint64
}

// NewReporter creates a Reporter with room for depth pending snapshots. Each
// publish call is bounded by timeout.
func NewReporter(l logger.Logger, depth int, timeout time.Duration, publishers ...Publisher) *Reporter {
	if depth < 1 {
		depth = 1
	}

	if l == nil {
		l = logger.NewNopLogger()
	}

	return &Reporter{
		log:        l,
		publishers: publishers,
		timeout:    timeout,
		queue:      make(chan Snapshot, depth),
	}
}

// Offer queues s for publishing.
//
// Returns:
//   - false if the queue was full and s was dropped
func (r *Reporter) Offer(s Snapshot) bool {
	select {
	case r.queue <- s:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Dropped returns how many snapshots Offer has discarded.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Published returns how many snapshots were delivered to every publisher.
func (r *Reporter) Published() uint64 {
	return r.published.Load()
}

// Run publishes queued snapshots until ctx is done. Publisher failures are
// logged and do not stop the reporter.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-r.queue:
			if err := r.publish(ctx, s); err != nil {
				r.log.Warn("stats publish failed", logger.Field{Key: "error", Value: err})
				continue
			}

			r.published.Add(1)
		}
	}
}

func (r *Reporter) publish(ctx context.Context, s Snapshot) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var g errgroup.Group
	errs := make([]error, len(r.publishers))
	for i, p := range r.publishers {
		g.Go(func() error {
			errs[i] = p.Publish(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
