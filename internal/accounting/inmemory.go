package accounting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemorySink keeps usage records in process for local/dev use.
type InMemorySink struct {
	mu      sync.RWMutex
	records map[string][]UsageRecord
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{records: make(map[string][]UsageRecord)}
}

func (s *InMemorySink) Record(_ context.Context, record UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.PrincipalID] = append(s.records[record.PrincipalID], record)
	return nil
}

func (s *InMemorySink) RecentUsage(_ context.Context, principalID string, limit int) ([]UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[principalID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]UsageRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemorySink) Close() error { return nil }
