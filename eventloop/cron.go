package eventloop

import (
	"container/heap"
	"time"
)

type cron struct {
	period time.Duration
	next   time.Time
	fn     CronFunc
	runs   uint64
}

// cronQueue is a min-heap of crons ordered by next firing time.
type cronQueue []*cron

func (q cronQueue) Len() int           { return len(q) }
func (q cronQueue) Less(i, j int) bool { return q[i].next.Before(q[j].next) }
func (q cronQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *cronQueue) Push(x any) {
	*q = append(*q, x.(*cron))
}

func (q *cronQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return c
}

func (q *cronQueue) add(c *cron) {
	heap.Push(q, c)
}

// peek returns the cron due soonest, or nil.
func (q cronQueue) peek() *cron {
	if len(q) == 0 {
		return nil
	}

	return q[0]
}

// rearm moves the head cron to its new position after its next time changed.
func (q *cronQueue) rearm() {
	heap.Fix(q, 0)
}
