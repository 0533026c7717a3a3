// Package status fans job progress deltas out to local subscribers such as
// WebSocket connections.
package status

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tendant/simple-ingestor/pkg/schema"
)

const DefaultBuffer = 16

// Hub delivers progress events for a job to every subscriber of that job.
// A subscriber that does not keep up loses events rather than blocking
// publishers; the next event still carries complete counters.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	logger *slog.Logger
}

type subscriber struct {
	ch     chan schema.JobProgress
	closed bool
}

// NewHub creates a hub with per-subscriber channel buffer size buffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), buffer: buffer, logger: logger}
}

// Subscribe returns a channel of events for jobID and a cancel func that
// unregisters and closes it. Cancel is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (<-chan schema.JobProgress, func()) {
	s := &subscriber{ch: make(chan schema.JobProgress, h.buffer)}
	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[jobID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		if set, ok := h.subs[jobID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		close(s.ch)
	}
	return s.ch, cancel
}

// Publish implements store.Notifier.
func (h *Hub) Publish(_ context.Context, evt schema.JobProgress) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[evt.JobID] {
		select {
		case s.ch <- evt:
		default:
			h.logger.Warn("dropping progress event for slow subscriber", "job_id", evt.JobID, "status", evt.Status)
		}
	}
	return nil
}

// Subscribers reports how many subscribers jobID has.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
