// Package queue holds job identifiers waiting for an orchestrator. It stores
// no job content and can be rebuilt from the job store after a crash.
package queue

import (
	"context"
	"fmt"
	"time"
)

// Priorities outside this range are rejected. The Redis score keeps
// millisecond order exact only while priority*priorityBand stays well inside
// float64 precision.
const (
	MinPriority = -100
	MaxPriority = 100
)

// CheckPriority reports a priority the queue cannot order exactly.
func CheckPriority(priority int) error {
	if priority < MinPriority || priority > MaxPriority {
		return fmt.Errorf("priority %d out of range [%d, %d]", priority, MinPriority, MaxPriority)
	}
	return nil
}

// Item is one queued job.
type Item struct {
	JobID      string
	Priority   int
	EnqueuedAt time.Time
}

// Queue pops the highest priority first, then the earliest enqueued.
// Re-enqueuing a queued job replaces its priority and timestamp.
type Queue interface {
	// Enqueue stamps the job with the current time.
	Enqueue(ctx context.Context, jobID string, priority int) error
	// EnqueueAt orders the job by at, so a re-queued job keeps its place.
	EnqueueAt(ctx context.Context, jobID string, priority int, at time.Time) error
	// Dequeue returns false when the queue is empty.
	Dequeue(ctx context.Context) (Item, bool, error)
	Len(ctx context.Context) (int, error)
}
