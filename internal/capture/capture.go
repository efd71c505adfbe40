// Package capture implements the point-capture state machine for one attempt:
// clicks become canonical points, a countdown starts at the first point, and
// the attempt ends either closed by the player or timed out.
package capture

import (
	"errors"
	"strings"
	"time"

	"polyscore/internal/geometry"
	"polyscore/internal/result"
	"polyscore/internal/timing"
)

// DefaultDoubleClickWindow is the gap under which a second click closes the polygon.
const DefaultDoubleClickWindow = 300 * time.Millisecond

// MinClosePoints is the smallest polygon that can be closed.
const MinClosePoints = 3

var (
	ErrNeedMorePoints  = errors.New("need 3+ points")
	ErrAttemptOver     = errors.New("attempt is over")
	ErrAttemptConsumed = errors.New("attempt already used")
)

// State of an attempt.
type State string

const (
	StateIdle     State = "idle"
	StateDrawing  State = "drawing"
	StateClosed   State = "closed"
	StateTimedOut State = "timed_out"
)

// Terminal reports whether no further input is accepted.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateTimedOut
}

// Key names understood by Key.
const (
	KeyDeleteLast = "d"
	KeyClose      = "Enter"
)

// Attempt is the mutable drawing state.
type Attempt struct {
	Points       geometry.Polygon
	HasAttempted bool
	FirstPointAt *time.Time
}

// Outcome records how an attempt ended.
type Outcome struct {
	State    State
	Polygon  geometry.Polygon
	TimedOut bool
	Score    result.Score
	// Scorable is false when no ground-truth object had a positive area.
	Scorable bool
	Feedback result.Feedback
	EndedAt  time.Time
	Elapsed  time.Duration
}

// Config tunes a Machine.
type Config struct {
	DoubleClickWindow time.Duration
	Classifier        result.Classifier
	Now               func() time.Time
}

// Snapshot is a copy of the machine's observable state.
type Snapshot struct {
	State        State
	Points       geometry.Polygon
	HasAttempted bool
	FirstPointAt *time.Time
	TimerArmed   bool
	Outcome      *Outcome
}

// Machine is not safe for concurrent use. The owner serializes every call,
// including Expire coming from the countdown.
type Machine struct {
	cfg     Config
	timer   *timing.Controller
	fire    func(timing.Handle)
	gt      []geometry.Polygon
	state   State
	attempt Attempt
	// lastClick is zero until the first accepted click.
	lastClick time.Time
	outcome   *Outcome
}

// New builds a machine around timer. fire is invoked from the scheduler when
// the countdown expires; it must acquire the owner's lock and call Expire. A
// nil fire calls Expire directly, which is only correct for schedulers that run
// tasks on the caller's goroutine.
func New(cfg Config, timer *timing.Controller, fire func(timing.Handle)) *Machine {
	if cfg.DoubleClickWindow <= 0 {
		cfg.DoubleClickWindow = DefaultDoubleClickWindow
	}
	if cfg.Classifier.PerfectThreshold <= 0 {
		cfg.Classifier.PerfectThreshold = result.PerfectThreshold
	}
	if cfg.Classifier.TimeBudget <= 0 {
		cfg.Classifier.TimeBudget = timer.Timeout()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Machine{cfg: cfg, timer: timer, state: StateIdle}
	if fire == nil {
		fire = func(h timing.Handle) { m.Expire(h) }
	}
	m.fire = fire
	return m
}

// SetGroundTruth replaces the polygons scored against. Nil means absent ground truth.
func (m *Machine) SetGroundTruth(polys []geometry.Polygon) {
	m.gt = polys
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Points returns a copy of the in-progress polygon.
func (m *Machine) Points() geometry.Polygon { return m.attempt.Points.Clone() }

// Outcome returns the terminal outcome, or nil while the attempt is live.
func (m *Machine) Outcome() *Outcome { return m.outcome }

// Snapshot copies the observable state.
func (m *Machine) Snapshot() Snapshot {
	_, armed := m.timer.Armed()
	snap := Snapshot{
		State:        m.state,
		Points:       m.attempt.Points.Clone(),
		HasAttempted: m.attempt.HasAttempted,
		TimerArmed:   armed,
		Outcome:      m.outcome,
	}
	if m.attempt.FirstPointAt != nil {
		t := *m.attempt.FirstPointAt
		snap.FirstPointAt = &t
	}
	return snap
}

// Click handles a pointer click already converted to canonical coordinates.
// A click that lands within the double-click window of the previous one on a
// polygon of three or more points closes it instead of adding a point; the
// returned outcome is non-nil in that case.
func (m *Machine) Click(p geometry.Point, at time.Time) (*Outcome, error) {
	if m.state.Terminal() {
		return nil, ErrAttemptOver
	}
	if m.attempt.HasAttempted && len(m.attempt.Points) == 0 {
		return nil, ErrAttemptConsumed
	}
	if len(m.attempt.Points) == 0 {
		first := at
		m.attempt.FirstPointAt = &first
		m.attempt.HasAttempted = true
		m.timer.Arm(m.fire)
		m.state = StateDrawing
	}
	doubled := !m.lastClick.IsZero() && at.Sub(m.lastClick) < m.cfg.DoubleClickWindow
	m.lastClick = at
	if doubled && len(m.attempt.Points) >= MinClosePoints {
		return m.close(at), nil
	}
	m.attempt.Points = append(m.attempt.Points, p)
	return nil, nil
}

// DeleteLast removes the most recent point. The attempt stays in Drawing even
// when the list empties, so no new point can be placed.
func (m *Machine) DeleteLast() bool {
	if m.state != StateDrawing || len(m.attempt.Points) == 0 {
		return false
	}
	m.attempt.Points = m.attempt.Points[:len(m.attempt.Points)-1]
	return true
}

// Close ends the attempt with the current polygon. With fewer than three
// points it fails with ErrNeedMorePoints and changes nothing; the countdown
// keeps running.
func (m *Machine) Close(at time.Time) (*Outcome, error) {
	if m.state.Terminal() {
		return nil, ErrAttemptOver
	}
	if len(m.attempt.Points) < MinClosePoints {
		return nil, ErrNeedMorePoints
	}
	return m.close(at), nil
}

// Key dispatches a key press. Unknown keys are ignored.
func (m *Machine) Key(key string, at time.Time) (*Outcome, error) {
	switch {
	case strings.EqualFold(key, KeyDeleteLast):
		if m.state.Terminal() {
			return nil, ErrAttemptOver
		}
		m.DeleteLast()
		return nil, nil
	case key == KeyClose:
		return m.Close(at)
	default:
		return nil, nil
	}
}

// Expire is the countdown callback. Stale handles and expiries on an empty
// polygon are ignored; otherwise the partial polygon is scored and the
// attempt times out.
func (m *Machine) Expire(h timing.Handle) *Outcome {
	if !m.timer.IsCurrent(h) {
		return nil
	}
	m.timer.Expire(h)
	if m.state != StateDrawing || len(m.attempt.Points) == 0 {
		return nil
	}
	at := m.cfg.Now()
	poly := m.attempt.Points.Clone()
	best, found := geometry.BestIoU(poly, m.gt)
	score := result.None
	if best > 0 {
		score = result.Some(best)
	}
	return m.finish(StateTimedOut, poly, score, found, at)
}

// Reset abandons the attempt and returns to Idle.
func (m *Machine) Reset() {
	m.timer.Cancel()
	m.attempt = Attempt{}
	m.lastClick = time.Time{}
	m.outcome = nil
	m.state = StateIdle
}

func (m *Machine) close(at time.Time) *Outcome {
	m.timer.Cancel()
	poly := m.attempt.Points.Clone()
	best, found := geometry.BestIoU(poly, m.gt)
	return m.finish(StateClosed, poly, result.Some(best), found, at)
}

func (m *Machine) finish(state State, poly geometry.Polygon, score result.Score, found bool, at time.Time) *Outcome {
	timedOut := state == StateTimedOut
	out := &Outcome{
		State:    state,
		Polygon:  poly,
		TimedOut: timedOut,
		Score:    score,
		Scorable: found,
		Feedback: m.cfg.Classifier.Classify(score, timedOut),
		EndedAt:  at,
	}
	if m.attempt.FirstPointAt != nil {
		out.Elapsed = at.Sub(*m.attempt.FirstPointAt)
	}
	m.attempt.Points = nil
	m.state = state
	m.outcome = out
	return out
}
