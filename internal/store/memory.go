package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/tgmonitor/internal/identity"
)

// Memory is an in-process Store. It backs tests and runs without a
// configured store module.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	subs    map[string]PushSubscription
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		subs:    make(map[string]PushSubscription),
		now:     time.Now,
	}
}

func (m *Memory) Load(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Settings = rec.Settings.Clone()
	return rec, nil
}

func (m *Memory) LoadAll(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Settings = rec.Settings.Clone()
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) SaveSettings(_ context.Context, id string, s identity.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[id]
	rec.ID = id
	rec.Settings = s.Clone()
	rec.UpdatedAt = m.now()
	m.records[id] = rec
	return nil
}

func (m *Memory) SaveStats(_ context.Context, id string, s identity.Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		rec = Record{ID: id, Settings: identity.DefaultSettings()}
	}
	rec.Stats = s
	rec.UpdatedAt = m.now()
	m.records[id] = rec
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	for endpoint, sub := range m.subs {
		if sub.IdentityID == id {
			delete(m.subs, endpoint)
		}
	}
	return nil
}

func (m *Memory) AddPushSubscription(_ context.Context, sub PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = m.now()
	}
	m.subs[sub.Endpoint] = sub
	return nil
}

func (m *Memory) PushSubscriptions(_ context.Context, identityID string) ([]PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PushSubscription
	for _, sub := range m.subs {
		if sub.IdentityID == identityID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b PushSubscription) int { return cmp.Compare(a.Endpoint, b.Endpoint) })
	return out, nil
}

func (m *Memory) DeletePushSubscription(_ context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, endpoint)
	return nil
}

func (m *Memory) Close() error { return nil }
