package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/checkinbot/checkinbot/internal/models"
)

// MemoryStore provides an in-memory cycle history.
// It is thread-safe and supports concurrent access.
type MemoryStore struct {
	mu     sync.RWMutex
	cycles map[string]*models.CycleSummary
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cycles: make(map[string]*models.CycleSummary),
	}
}

// SaveCycle stores a copy of the summary
func (s *MemoryStore) SaveCycle(_ context.Context, summary *models.CycleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles[summary.ID] = cloneSummary(summary)
	return nil
}

// ListCycles returns up to limit cycles, newest first
func (s *MemoryStore) ListCycles(_ context.Context, limit int) ([]*models.CycleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.CycleSummary, 0, len(s.cycles))
	for _, c := range s.cycles {
		result = append(result, cloneSummary(c))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit = normalizeLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LatestCycle returns the most recent cycle
func (s *MemoryStore) LatestCycle(ctx context.Context) (*models.CycleSummary, bool, error) {
	cycles, err := s.ListCycles(ctx, 1)
	if err != nil || len(cycles) == 0 {
		return nil, false, err
	}
	return cycles[0], true, nil
}

// Prune removes cycles started before cutoff
func (s *MemoryStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.cycles {
		if c.StartedAt.Before(cutoff) {
			delete(s.cycles, id)
			removed++
		}
	}
	return removed
}

// Stats returns store statistics
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{CycleCount: len(s.cycles)}
	for _, c := range s.cycles {
		stats.ResultCount += len(c.Results)
	}
	return stats
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func cloneSummary(in *models.CycleSummary) *models.CycleSummary {
	out := *in
	out.Counts = make(map[string]int, len(in.Counts))
	for k, v := range in.Counts {
		out.Counts[k] = v
	}
	out.Results = make([]models.AccountResult, len(in.Results))
	copy(out.Results, in.Results)
	return &out
}
