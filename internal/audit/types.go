package audit

import (
	"context"
	"time"
)

// Record is the telemetry kept for one tool call. Arguments, payloads and
// conversation text are never stored.
type Record struct {
	ID           int64     `json:"id"`
	Tool         string    `json:"tool"`
	InvocationID string    `json:"invocation_id"`
	OK           bool      `json:"ok"`
	Reason       string    `json:"reason,omitempty"`
	Status       int       `json:"status,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	Insert(ctx context.Context, records ...Record) error
	Latest(ctx context.Context, limit int) ([]Record, error)
	Prune(ctx context.Context, keep int) (int64, error)
	Close() error
}
