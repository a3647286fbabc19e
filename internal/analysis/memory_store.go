package analysis

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory report store for demo/development mode.
type MemoryStore struct {
	reports map[string]*StoredReport // by day
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory report store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*StoredReport)}
}

func (m *MemoryStore) Get(ctx context.Context, day string) (*StoredReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.reports[day]
	if !ok {
		return nil, ErrReportNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, rec *StoredReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.reports[rec.Report.Date] = &cp
	return nil
}

func (m *MemoryStore) ListFlagged(ctx context.Context, limit int) ([]*StoredReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*StoredReport
	for _, rec := range m.reports {
		if rec.Report.Flagged {
			cp := *rec
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Report.Date > result[j].Report.Date
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
