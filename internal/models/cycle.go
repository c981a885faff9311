package models

import (
	"sort"
	"time"
)

// CycleSummary aggregates one batch cycle.
type CycleSummary struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Accounts   int             `json:"accounts"`
	Counts     map[string]int  `json:"counts"`
	Results    []AccountResult `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NewCycleSummary returns an empty summary started now.
func NewCycleSummary(id string, accounts int) *CycleSummary {
	return &CycleSummary{
		ID:        id,
		StartedAt: time.Now(),
		Accounts:  accounts,
		Counts:    make(map[string]int),
	}
}

// Add records one account result.
func (s *CycleSummary) Add(r AccountResult) {
	if s.Counts == nil {
		s.Counts = make(map[string]int)
	}
	s.Counts[r.Category()]++
	s.Results = append(s.Results, r)
}

// Succeeded counts accounts that are checked in for today.
func (s *CycleSummary) Succeeded() int {
	return s.Counts[string(OutcomeCompleted)] + s.Counts[string(OutcomeAlreadyChecked)]
}

// Failed counts accounts that did not reach a successful outcome.
func (s *CycleSummary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// SortResults orders results by account index. Workers finish in any order.
func (s *CycleSummary) SortResults() {
	sort.Slice(s.Results, func(i, j int) bool {
		return s.Results[i].Index < s.Results[j].Index
	})
}

// Categories returns the count keys in stable order.
func (s *CycleSummary) Categories() []string {
	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Duration is the wall time of the cycle.
func (s *CycleSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
