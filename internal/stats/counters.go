// Package stats tracks crawl-wide counters and exposes them as a live
// terminal dashboard, a Prometheus endpoint, and the Hooks callback surface
// the scheduler invokes at each stage of a task's lifecycle.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"
)

// Counters accumulates the crawl-wide totals spec.md's statistics section
// lists: queue depth, terminal status breakdown, and bytes transferred.
// Every field is updated with sync/atomic so any worker goroutine can report
// into it without a shared lock; a mutex here would just serialize what is
// otherwise embarrassingly parallel bookkeeping.
type Counters struct {
	queued   int64
	dequeued int64

	done    int64
	errored int64
	skipped int64

	bytesIn  int64
	bytesOut int64

	startedAt time.Time
	bandwidth *ratecounter.RateCounter
}

// NewCounters starts the clock a Duration() call measures crawl age
// against.
func NewCounters() *Counters {
	return &Counters{
		startedAt: time.Now(),
		bandwidth: ratecounter.NewRateCounter(time.Second),
	}
}

func (c *Counters) IncrQueued(n int64)   { atomic.AddInt64(&c.queued, n) }
func (c *Counters) IncrDequeued(n int64) { atomic.AddInt64(&c.dequeued, n) }
func (c *Counters) IncrDone()            { atomic.AddInt64(&c.done, 1) }
func (c *Counters) IncrErrored()         { atomic.AddInt64(&c.errored, 1) }
func (c *Counters) IncrSkipped()         { atomic.AddInt64(&c.skipped, 1) }

// IncrBytesIn records n bytes read off the wire and feeds the same sample
// into the rolling bandwidth counter Bandwidth() reports from.
func (c *Counters) IncrBytesIn(n int64) {
	atomic.AddInt64(&c.bytesIn, n)
	c.bandwidth.Incr(n)
}

func (c *Counters) IncrBytesOut(n int64) { atomic.AddInt64(&c.bytesOut, n) }

func (c *Counters) Queued() int64   { return atomic.LoadInt64(&c.queued) }
func (c *Counters) Dequeued() int64 { return atomic.LoadInt64(&c.dequeued) }
func (c *Counters) Done() int64     { return atomic.LoadInt64(&c.done) }
func (c *Counters) Errored() int64  { return atomic.LoadInt64(&c.errored) }
func (c *Counters) Skipped() int64  { return atomic.LoadInt64(&c.skipped) }
func (c *Counters) BytesIn() int64  { return atomic.LoadInt64(&c.bytesIn) }
func (c *Counters) BytesOut() int64 { return atomic.LoadInt64(&c.bytesOut) }

// Bandwidth reports bytes/sec read over the trailing one-second window.
func (c *Counters) Bandwidth() int64 { return c.bandwidth.Rate() }

func (c *Counters) Duration() time.Duration { return time.Since(c.startedAt) }

// Snapshot is an immutable copy of Counters' fields at one instant, the
// shape both the live display and the Prometheus handler read from.
type Snapshot struct {
	Queued    int64
	Dequeued  int64
	Done      int64
	Errored   int64
	Skipped   int64
	BytesIn   int64
	BytesOut  int64
	Bandwidth int64
	Duration  time.Duration
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Queued:    c.Queued(),
		Dequeued:  c.Dequeued(),
		Done:      c.Done(),
		Errored:   c.Errored(),
		Skipped:   c.Skipped(),
		BytesIn:   c.BytesIn(),
		BytesOut:  c.BytesOut(),
		Bandwidth: c.Bandwidth(),
		Duration:  c.Duration(),
	}
}
