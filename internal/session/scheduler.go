package session

import (
	"sync"
	"time"
)

// Task is a periodic job registered with a Scheduler.
type Task interface {
	// Stop cancels future runs. It is safe to call more than once.
	Stop()
}

// Scheduler runs periodic jobs and supplies the current time.
type Scheduler interface {
	// Every runs fn every d until the returned Task is stopped.
	// The first run happens d after registration.
	Every(d time.Duration, fn func()) Task

	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}

// RealScheduler drives tasks from the wall clock.
type RealScheduler struct{}

// Every starts a ticker goroutine for fn.
func (RealScheduler) Every(d time.Duration, fn func()) Task {
	t := &tickerTask{ticker: time.NewTicker(d), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				fn()
			}
		}
	}()
	return t
}

// Now returns time.Now().
func (RealScheduler) Now() time.Time {
	return time.Now()
}

type tickerTask struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTask) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}

// ManualClock is a virtual clock for tests. Time only moves when Advance
// is called, and due tasks run synchronously on the caller's goroutine
// in time order.
type ManualClock struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*manualTask
}

// NewManualClock returns a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

type manualTask struct {
	clock    *ManualClock
	interval time.Duration
	next     time.Time
	fn       func()
	stopped  bool
}

func (t *manualTask) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

// Every registers fn to run every d of virtual time.
func (c *ManualClock) Every(d time.Duration, fn func()) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTask{clock: c, interval: d, next: c.now.Add(d), fn: fn}
	c.tasks = append(c.tasks, t)
	return t
}

// Now returns the virtual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, running every task that falls
// due along the way. Tasks due at the same instant run in registration
// order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *manualTask
		for _, t := range c.tasks {
			if t.stopped || t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		c.mu.Unlock()

		fn()
	}
}
