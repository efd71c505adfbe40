// Package timing provides the per-attempt countdown as an explicit cancellable
// deferred task.
package timing

import (
	"sync"
	"time"
)

// DefaultTimeout is the drawing budget measured from the first placed point.
const DefaultTimeout = 7000 * time.Millisecond

// Timer is a pending deferred task.
type Timer interface {
	// Stop cancels the task. It reports whether the call stopped it before it ran.
	Stop() bool
}

// Scheduler runs f after d on some goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Handle identifies one arming of a Controller. The zero Handle is never issued.
type Handle uint64

// RealScheduler schedules with time.AfterFunc.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Controller owns at most one outstanding countdown. It is not safe for
// concurrent use; the owning session serializes calls and re-enters through
// its own lock when a timer fires.
type Controller struct {
	sched   Scheduler
	timeout time.Duration
	timer   Timer
	current Handle
	seq     Handle
}

// NewController returns a disarmed controller. A nil scheduler means RealScheduler.
func NewController(sched Scheduler, timeout time.Duration) *Controller {
	if sched == nil {
		sched = RealScheduler{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{sched: sched, timeout: timeout}
}

// Timeout returns the configured budget.
func (c *Controller) Timeout() time.Duration { return c.timeout }

// Arm cancels any pending countdown and starts a new one. fire receives the
// handle of the arming that expired so the receiver can discard stale fires
// with IsCurrent.
func (c *Controller) Arm(fire func(Handle)) Handle {
	c.Cancel()
	c.seq++
	h := c.seq
	c.current = h
	c.timer = c.sched.AfterFunc(c.timeout, func() { fire(h) })
	return h
}

// Cancel stops the pending countdown, if any.
func (c *Controller) Cancel() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = nil
	c.current = 0
}

// Armed reports the live handle.
func (c *Controller) Armed() (Handle, bool) {
	return c.current, c.current != 0
}

// IsCurrent reports whether h is the live arming.
func (c *Controller) IsCurrent(h Handle) bool {
	return h != 0 && h == c.current
}

// Expire marks h as consumed after its callback has been honored.
func (c *Controller) Expire(h Handle) {
	if c.IsCurrent(h) {
		c.timer = nil
		c.current = 0
	}
}

// Manual is a Scheduler whose tasks only run when Advance is called. It lets
// callers drive countdowns deterministically.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTimer
}

type manualTimer struct {
	m       *Manual
	due     time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewManual returns a manual scheduler at offset zero.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{m: m, due: m.now + d, f: f}
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward and runs every task that came due, in due
// order, on the calling goroutine.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now += d
	var due []*manualTimer
	var rest []*manualTimer
	for _, t := range m.tasks {
		switch {
		case t.stopped:
		case t.due <= m.now:
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	m.tasks = rest
	m.mu.Unlock()
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && due[j].due < due[j-1].due; j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}
	for _, t := range due {
		t.f()
	}
	return len(due)
}

// Pending counts tasks that are neither stopped nor fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
