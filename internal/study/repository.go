package study

import (
	"context"
	"time"
)

type RoleCounter struct {
	Interrogators int `json:"interrogator_count"`
	Witnesses     int `json:"witness_count"`
}

func (c RoleCounter) Total() int {
	return c.Interrogators + c.Witnesses
}

type DroppedParticipant struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	ExternalID    string    `json:"external_id,omitempty"`
	Reason        string    `json:"reason"`
	UIEvents      []UIEvent `json:"ui_events,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type AssignRoleParams struct {
	SessionID string
	UserID    string
	Now       time.Time
	// Counted is false when the role is handed out without touching the
	// counter; such records start with CounterDecremented set.
	Counted bool
	Pick    func(RoleCounter) Role
	Prepare func(*Session)
}

type SessionFilter struct {
	MatchStatuses   []MatchStatus
	Statuses        []SessionStatus
	ExcludeStatuses []SessionStatus
	MatchedBefore   *time.Time
	WaitingBefore   *time.Time
	UpdatedBefore   *time.Time
	// CounterHeld keeps only assigned records whose role slot was never
	// released, whatever their status.
	CounterHeld bool
	Limit       int
}

// Repository is the durable store behind the coordinator.
//
// UpdateSession and UpdatePair hold row locks for the duration of fn. When
// fn flips CounterDecremented from false to true the store decrements the
// session's role counter in the same transaction, at most once per record.
// Errors returned by fn abort the write and are returned unchanged.
type Repository interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	// AssignRole returns the existing record when it is in progress and
	// holds a role; otherwise it picks a role under the counter lock and
	// creates or resets the record.
	AssignRole(ctx context.Context, params AssignRoleParams) (*Session, bool, error)
	UpdateSession(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	UpdatePair(ctx context.Context, aID, bID string, fn func(a, b *Session) error) (*Session, *Session, error)
	OldestWaiting(ctx context.Context, role Role) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)
	RoleCounter(ctx context.Context) (RoleCounter, error)
	RecordDropout(ctx context.Context, d DroppedParticipant) error
	// Dropouts lists audit rows for one participant, oldest first.
	Dropouts(ctx context.Context, participantID string) ([]DroppedParticipant, error)
	Ping(ctx context.Context) error
}

// Release returns the counter with one slot of role given back, floored at zero.
func (c RoleCounter) Release(role Role) RoleCounter {
	switch role {
	case RoleInterrogator:
		if c.Interrogators > 0 {
			c.Interrogators--
		}
	case RoleWitness:
		if c.Witnesses > 0 {
			c.Witnesses--
		}
	}
	return c
}

// Match applies the filter in memory; the Postgres store renders the same
// predicates as SQL.
func (f SessionFilter) Match(s *Session) bool {
	if len(f.MatchStatuses) > 0 && !containsMatch(f.MatchStatuses, s.MatchStatus) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, s.Status) {
		return false
	}
	if len(f.ExcludeStatuses) > 0 && containsStatus(f.ExcludeStatuses, s.Status) {
		return false
	}
	if f.MatchedBefore != nil && (s.MatchedAt == nil || !s.MatchedAt.Before(*f.MatchedBefore)) {
		return false
	}
	if f.WaitingBefore != nil && (s.WaitingRoomEnteredAt == nil || !s.WaitingRoomEnteredAt.Before(*f.WaitingBefore)) {
		return false
	}
	if f.UpdatedBefore != nil && !s.LastUpdated.Before(*f.UpdatedBefore) {
		return false
	}
	if f.CounterHeld && (!s.Role.Assigned() || s.CounterDecremented) {
		return false
	}
	return true
}

func containsMatch(list []MatchStatus, v MatchStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsStatus(list []SessionStatus, v SessionStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
