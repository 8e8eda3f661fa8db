package profiles

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
)

type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]identity.Profile
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]identity.Profile), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*identity.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) Upsert(_ context.Context, p *identity.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	row := *p
	if old, ok := m.rows[p.ID]; ok {
		row.CreatedAt = old.CreatedAt
	} else {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	m.rows[p.ID] = row
	return nil
}
