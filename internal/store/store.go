// Package store keeps a history ledger of batch cycles and their account results.
package store

import (
	"context"

	"github.com/checkinbot/checkinbot/internal/models"
)

// Store persists cycle summaries.
type Store interface {
	// SaveCycle inserts or replaces a cycle and its account results.
	SaveCycle(ctx context.Context, summary *models.CycleSummary) error
	// ListCycles returns up to limit cycles, newest first.
	ListCycles(ctx context.Context, limit int) ([]*models.CycleSummary, error)
	// LatestCycle returns the most recent cycle.
	LatestCycle(ctx context.Context) (*models.CycleSummary, bool, error)
	Close() error
}

// StoreStats contains store statistics
type StoreStats struct {
	CycleCount  int `json:"cycle_count"`
	ResultCount int `json:"result_count"`
}

// DefaultListLimit applies when a caller asks for a non-positive limit.
const DefaultListLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
