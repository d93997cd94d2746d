// Package dedup implements the idempotency ledger that makes client retries
// safe. Entries expire after a bounded retention window. Expiry is a
// liveness/memory bound, not a correctness guarantee; a message retried
// after the window could in theory be reprocessed.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Ledger records client-supplied message ids that have been processed.
// MarkIfNew is an atomic insert-if-absent: false means the triple was
// already present and the operation is a duplicate.
type Ledger interface {
	MarkIfNew(ctx context.Context, conversationID, userID, clientID string) (bool, error)
}

func entryKey(conversationID, userID, clientID string) string {
	return fmt.Sprintf("%s:%s:%s", conversationID, userID, clientID)
}

// MemoryLedger is a process-local Ledger for tests and single-node runs.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *MemoryLedger) MarkIfNew(_ context.Context, conversationID, userID, clientID string) (bool, error) {
	key := entryKey(conversationID, userID, clientID)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, ok := l.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.entries[key] = now.Add(l.ttl)
	l.sweepLocked(now)
	return true, nil
}

func (l *MemoryLedger) sweepLocked(now time.Time) {
	if len(l.entries) < 4096 {
		return
	}
	for k, exp := range l.entries {
		if now.After(exp) {
			delete(l.entries, k)
		}
	}
}
