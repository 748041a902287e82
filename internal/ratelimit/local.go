package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Local keeps counters in process memory for at most capacity agents. When
// full, the agent seen least recently is forgotten.
type Local struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently seen
}

type window struct {
	agentID string
	count   int
	resetAt time.Time
}

// NewLocal creates a bounded in-memory counter. Non-positive arguments take
// the package defaults.
func NewLocal(windowSize time.Duration, capacity int) *Local {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Local{
		window:   windowSize,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Increment never fails.
func (l *Local) Increment(_ context.Context, agentID string, now time.Time) (Count, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.entries[agentID]; ok {
		w := el.Value.(*window)
		if !now.Before(w.resetAt) {
			w.count = 0
			w.resetAt = now.Add(l.window)
		}
		w.count++
		l.order.MoveToFront(el)
		return Count{Value: w.count, ResetAt: w.resetAt}, nil
	}

	for len(l.entries) >= l.capacity {
		oldest := l.order.Back()
		if oldest == nil {
			break
		}
		l.order.Remove(oldest)
		delete(l.entries, oldest.Value.(*window).agentID)
	}

	w := &window{agentID: agentID, count: 1, resetAt: now.Add(l.window)}
	l.entries[agentID] = l.order.PushFront(w)
	return Count{Value: 1, ResetAt: w.resetAt}, nil
}

// Len returns the number of tracked agents.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
