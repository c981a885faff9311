package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// CycleIDKey is the context key for the batch cycle ID
	CycleIDKey contextKey = "cycle_id"
)

// WithCycleID tags ctx with a cycle ID so every log line of that cycle can be grouped
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, CycleIDKey, cycleID)
}

// CycleID returns the cycle ID from ctx, or "" if unset
func CycleID(ctx context.Context) string {
	if id, ok := ctx.Value(CycleIDKey).(string); ok {
		return id
	}
	return ""
}

// NewCycleID generates a UUID-based cycle ID
func NewCycleID() string {
	return uuid.New().String()
}
