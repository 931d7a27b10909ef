package presence

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory keeps typing signals in process.
type Memory struct {
	cache *cache.Cache
}

func NewMemory() *Memory {
	return &Memory{cache: cache.New(3*time.Second, time.Minute)}
}

func (m *Memory) Touch(_ context.Context, sessionID string, window time.Duration) error {
	m.cache.Set(sessionID, time.Now(), window)
	return nil
}

func (m *Memory) Active(_ context.Context, sessionID string) (bool, error) {
	_, found := m.cache.Get(sessionID)
	return found, nil
}
