// Package metrics provides in-process counters and timers. They back the
// consumer's delivery-outcome tallies and are cheap enough to leave on.
package metrics

import (
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing count safe for concurrent use. The
// zero value is ready.
type Counter struct {
	value atomic.Uint64
}

func (c *Counter) Inc() {
	c.value.Add(1)
}

func (c *Counter) Add(n uint64) {
	c.value.Add(n)
}

func (c *Counter) Load() uint64 {
	return c.value.Load()
}

// Timer measures the elapsed time of a single unit of work.
type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
