package engine

import (
	"sync"
	"time"

	"polyscore/internal/capture"
	"polyscore/internal/domain"
	"polyscore/internal/geometry"
	"polyscore/internal/groundtruth"
	"polyscore/internal/viewport"
)

// session is one player's annotation mode. mu serializes every transition,
// including countdown expiry.
type session struct {
	mu        sync.Mutex
	id        string
	playerID  string
	machine   *capture.Machine
	view      *viewport.Transform
	gt        *groundtruth.Set
	gtURL     string
	result    *domain.Result
	notice    string
	left      bool
	createdAt time.Time
	updatedAt time.Time
}

func (s *session) setGroundTruth(gt *groundtruth.Set) {
	s.gt = gt
	s.machine.SetGroundTruth(gt.Polygons())
}

func (s *session) snapshot(timeout time.Duration) domain.Session {
	snap := s.machine.Snapshot()
	out := domain.Session{
		ID:           s.id,
		PlayerID:     s.playerID,
		State:        string(snap.State),
		Points:       snap.Points,
		HasAttempted: snap.HasAttempted,
		TimerArmed:   snap.TimerArmed,
		Viewport:     s.view.State(),
		Image:        s.view.Image(),
		Container:    s.view.Container(),
		GroundTruth: domain.GroundTruthInfo{
			URL:      s.gtURL,
			Loaded:   s.gt != nil,
			Scorable: s.gt.Scorable(),
		},
		Result:    s.result,
		Notice:    s.notice,
		CreatedAt: formatTime(s.createdAt),
		UpdatedAt: formatTime(s.updatedAt),
	}
	if out.Points == nil {
		out.Points = geometry.Polygon{}
	}
	if s.gt != nil {
		out.GroundTruth.Objects = len(s.gt.Objects)
	}
	if snap.FirstPointAt != nil {
		first := formatTime(*snap.FirstPointAt)
		out.FirstPointAt = &first
		if snap.TimerArmed {
			deadline := formatTime(snap.FirstPointAt.Add(timeout))
			out.DeadlineAt = &deadline
		}
	}
	if snap.Outcome != nil {
		fb := snap.Outcome.Feedback
		out.Feedback = &fb
	}
	return out
}

type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

func (r *registry) put(s *session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *registry) get(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *registry) take(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// takeIdle removes sessions last touched before cutoff. It never holds the
// registry lock while taking a session lock.
func (r *registry) takeIdle(cutoff time.Time) []*session {
	r.mu.Lock()
	candidates := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.Unlock()

	var stale []*session
	for _, s := range candidates {
		s.mu.Lock()
		idle := s.updatedAt.Before(cutoff)
		s.mu.Unlock()
		if !idle {
			continue
		}
		if taken, ok := r.take(s.id); ok {
			stale = append(stale, taken)
		}
	}
	return stale
}

func (r *registry) drain() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
	}
	return out
}
