package store

import (
	"context"
	"sync"
	"time"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
)

type memoryEntry struct {
	prediction model.Prediction
	expires    time.Time
}

// Memory is an in-process Store. Expired entries are dropped lazily.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Save(_ context.Context, id string, p model.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[id] = memoryEntry{prediction: p, expires: now.Add(m.ttl)}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (model.Prediction, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expires) {
		return model.Prediction{}, ErrNotFound
	}
	return e.prediction, nil
}

func (m *Memory) Close() error {
	return nil
}
