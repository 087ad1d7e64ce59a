// Package expiry periodically closes flows that went idle or grew too old.
package expiry

import (
	"FlowSpectra/internal/engine/flowstate"
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Clock supplies the "now" a sweep is evaluated against.
type Clock interface {
	Now() time.Time
}

// WallClock is the host clock, for live capture.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// Watermark tracks the largest packet timestamp observed so far. Replaying a
// capture file with it expires flows in capture time rather than host time.
// Now returns the zero time until the first packet is observed.
type Watermark struct {
	nanos atomic.Int64
}

// Observe advances the watermark to ts if ts is later.
func (w *Watermark) Observe(ts time.Time) {
	n := ts.UnixNano()
	for {
		cur := w.nanos.Load()
		if n <= cur || w.nanos.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (w *Watermark) Now() time.Time {
	n := w.nanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Sweeper is the part of the flow table the scheduler drives.
type Sweeper interface {
	Sweep(now time.Time, idle, maxDuration time.Duration) []*flowstate.FlowState
}

// Scheduler runs a sweep every interval and passes expired flows to emit.
type Scheduler struct {
	table       Sweeper
	clock       Clock
	interval    time.Duration
	idle        time.Duration
	maxDuration time.Duration
	emit        func([]*flowstate.FlowState)
	swept       atomic.Uint64
}

// NewScheduler creates a scheduler. emit is called from the scheduler goroutine.
func NewScheduler(table Sweeper, clock Clock, interval, idle, maxDuration time.Duration, emit func([]*flowstate.FlowState)) *Scheduler {
	return &Scheduler{
		table:       table,
		clock:       clock,
		interval:    interval,
		idle:        idle,
		maxDuration: maxDuration,
		emit:        emit,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce()
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce performs one sweep at the clock's current time and returns the
// number of flows it expired.
func (s *Scheduler) SweepOnce() int {
	now := s.clock.Now()
	if now.IsZero() {
		return 0
	}
	expired := s.table.Sweep(now, s.idle, s.maxDuration)
	if len(expired) == 0 {
		return 0
	}
	s.swept.Add(uint64(len(expired)))
	log.Printf("ExpiryScheduler: expired %d flows at %s", len(expired), now.Format(time.RFC3339Nano))
	s.emit(expired)
	return len(expired)
}

// Expired returns the number of flows expired by this scheduler so far.
func (s *Scheduler) Expired() uint64 {
	return s.swept.Load()
}
