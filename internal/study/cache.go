package study

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// sessionCache holds snapshots of active sessions. It is always
// reconcilable from the repository; a miss only costs a load.
type sessionCache struct {
	c *cache.Cache
}

func newSessionCache(ttl time.Duration) *sessionCache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &sessionCache{c: cache.New(ttl, ttl/4)}
}

func (sc *sessionCache) get(id string) (*Session, bool) {
	v, ok := sc.c.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session).Clone(), true
}

// refresh stores s while it is active and drops it otherwise.
func (sc *sessionCache) refresh(s *Session) {
	if s == nil {
		return
	}
	if s.Status == StatusActive {
		sc.c.SetDefault(s.ID, s.Clone())
		return
	}
	sc.c.Delete(s.ID)
}

func (sc *sessionCache) len() int {
	return sc.c.ItemCount()
}

// pendingEvents buffers UI events logged before a session is initialized,
// keyed by participant id.
type pendingEvents struct {
	mu sync.Mutex
	c  *cache.Cache
}

func newPendingEvents(ttl time.Duration) *pendingEvents {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &pendingEvents{c: cache.New(ttl, ttl/4)}
}

func (p *pendingEvents) add(participantID string, ev UIEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var events []UIEvent
	if v, ok := p.c.Get(participantID); ok {
		events = v.([]UIEvent)
	}
	events = append(append([]UIEvent(nil), events...), ev)
	p.c.SetDefault(participantID, events)
}

func (p *pendingEvents) peek(participantID string) []UIEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.c.Get(participantID); ok {
		return append([]UIEvent(nil), v.([]UIEvent)...)
	}
	return nil
}

func (p *pendingEvents) drop(participantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c.Delete(participantID)
}

func (p *pendingEvents) take(participantID string) []UIEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.c.Get(participantID)
	if !ok {
		return nil
	}
	p.c.Delete(participantID)
	return v.([]UIEvent)
}
