package history

import (
	"context"
	"sync"

	"github.com/crimson-sun/edrdash/internal/model"
)

// Memory is an in-process store holding the most recent runs.
type Memory struct {
	mu      sync.RWMutex
	max     int
	reports map[string]*model.Report
	order   []string // oldest first
}

// NewMemory creates a store keeping at most maxRuns runs (DefaultMaxRuns when
// maxRuns <= 0). The oldest run is evicted first.
func NewMemory(maxRuns int) *Memory {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &Memory{max: maxRuns, reports: make(map[string]*model.Report)}
}

func (m *Memory) Save(_ context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.reports[r.ID] = stripped(r)

	for len(m.order) > m.max {
		delete(m.reports, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *Memory) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]Entry, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, EntryOf(m.reports[m.order[i]]))
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
