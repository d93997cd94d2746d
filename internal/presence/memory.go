package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker is the process-local Tracker for tests and single-node runs.
type MemoryTracker struct {
	mu    sync.Mutex
	conns map[string]map[string]struct{}
	seen  map[string]time.Time
	now   func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		conns: make(map[string]map[string]struct{}),
		seen:  make(map[string]time.Time),
		now:   time.Now,
	}
}

func (t *MemoryTracker) Connected(_ context.Context, userID, connID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	set[connID] = struct{}{}
	t.seen[userID] = t.now().UTC()
	return nil
}

func (t *MemoryTracker) Disconnected(_ context.Context, userID, connID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.conns[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(t.conns, userID)
		}
	}
	t.seen[userID] = t.now().UTC()
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, userID string) (Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := Info{Status: Offline, LastSeen: t.seen[userID]}
	if len(t.conns[userID]) > 0 {
		info.Status = Online
	}
	return info, nil
}
