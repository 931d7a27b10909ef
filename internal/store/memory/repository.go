// Package memory is a process-local study.Repository used by tests and by
// STORE_DRIVER=memory deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"turing-study/internal/ids"
	"turing-study/internal/study"
)

type Repository struct {
	mu       sync.Mutex
	sessions map[string]*study.Session
	counter  study.RoleCounter
	dropouts []study.DroppedParticipant
}

var _ study.Repository = (*Repository)(nil)

func New() *Repository {
	return &Repository{sessions: map[string]*study.Session{}}
}

func (r *Repository) GetSession(_ context.Context, id string) (*study.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, study.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Put stores a record as-is. Tests use it to seed state.
func (r *Repository) Put(s *study.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s.Clone()
}

// SetCounter overwrites the role counter.
func (r *Repository) SetCounter(c study.RoleCounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter = c
}

func (r *Repository) AssignRole(_ context.Context, p study.AssignRoleParams) (*study.Session, bool, error) {
	if p.SessionID == "" || p.Pick == nil {
		return nil, false, study.ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[p.SessionID]; ok && existing.Role.Assigned() && existing.Status.InProgress() {
		return existing.Clone(), true, nil
	}

	counter := r.counter
	if existing, ok := r.sessions[p.SessionID]; ok && existing.Role.Assigned() && !existing.CounterDecremented {
		counter = counter.Release(existing.Role)
	}
	role := p.Pick(counter)
	if !role.Assigned() {
		return nil, false, fmt.Errorf("%w: picked %q", study.ErrInvalidState, role)
	}
	sess := study.NewSession(p.SessionID, p.UserID, p.Now)
	sess.Role = role
	if p.Counted {
		switch role {
		case study.RoleInterrogator:
			counter.Interrogators++
		case study.RoleWitness:
			counter.Witnesses++
		}
	} else {
		sess.CounterDecremented = true
	}
	if p.Prepare != nil {
		p.Prepare(sess)
	}
	r.counter = counter
	r.sessions[sess.ID] = sess.Clone()
	return sess, false, nil
}

func (r *Repository) UpdateSession(_ context.Context, id string, fn func(*study.Session) error) (*study.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[id]
	if !ok {
		return nil, study.ErrSessionNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.commitLocked(cur, next)
	return next.Clone(), nil
}

func (r *Repository) UpdatePair(_ context.Context, aID, bID string, fn func(a, b *study.Session) error) (*study.Session, *study.Session, error) {
	if aID == bID {
		return nil, nil, fmt.Errorf("%w: pair with itself", study.ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	curA, okA := r.sessions[aID]
	curB, okB := r.sessions[bID]
	if !okA || !okB {
		return nil, nil, study.ErrSessionNotFound
	}
	nextA, nextB := curA.Clone(), curB.Clone()
	if err := fn(nextA, nextB); err != nil {
		return nil, nil, err
	}
	r.commitLocked(curA, nextA)
	r.commitLocked(curB, nextB)
	return nextA.Clone(), nextB.Clone(), nil
}

func (r *Repository) commitLocked(prev, next *study.Session) {
	if next.CounterDecremented && !prev.CounterDecremented {
		r.counter = r.counter.Release(next.Role)
	}
	r.sessions[next.ID] = next.Clone()
}

func (r *Repository) OldestWaiting(_ context.Context, role study.Role) (*study.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *study.Session
	for _, s := range r.sessions {
		if s.Role != role || s.MatchStatus != study.MatchWaiting || s.Status == study.StatusAbandoned {
			continue
		}
		if best == nil || study.EnteredBefore(s, best) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Clone(), nil
}

func (r *Repository) ListSessions(_ context.Context, f study.SessionFilter) ([]study.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []study.Session{}
	for _, s := range r.sessions {
		if f.Match(s) {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *Repository) RoleCounter(_ context.Context) (study.RoleCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter, nil
}

func (r *Repository) RecordDropout(_ context.Context, d study.DroppedParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == "" {
		d.ID = ids.New()
	}
	r.dropouts = append(r.dropouts, d)
	return nil
}

func (r *Repository) Dropouts(_ context.Context, participantID string) ([]study.DroppedParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []study.DroppedParticipant{}
	for _, d := range r.dropouts {
		if d.ParticipantID == participantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *Repository) Ping(context.Context) error {
	return nil
}
