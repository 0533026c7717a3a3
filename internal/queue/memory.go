package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Memory is an in-process priority queue.
type Memory struct {
	mu    sync.Mutex
	items itemHeap
	index map[string]*Item
	now   func() time.Time
}

// NewMemory creates an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{index: make(map[string]*Item), now: time.Now}
}

func (m *Memory) Enqueue(ctx context.Context, jobID string, priority int) error {
	return m.EnqueueAt(ctx, jobID, priority, m.now())
}

func (m *Memory) EnqueueAt(_ context.Context, jobID string, priority int, at time.Time) error {
	if err := CheckPriority(priority); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.index[jobID]; ok {
		it.Priority = priority
		it.EnqueuedAt = at
		heap.Init(&m.items)
		return nil
	}
	it := &Item{JobID: jobID, Priority: priority, EnqueuedAt: at}
	m.index[jobID] = it
	heap.Push(&m.items, it)
	return nil
}

func (m *Memory) Dequeue(_ context.Context) (Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items.Len() == 0 {
		return Item{}, false, nil
	}
	it := heap.Pop(&m.items).(*Item)
	delete(m.index, it.JobID)
	return *it, true, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len(), nil
}
