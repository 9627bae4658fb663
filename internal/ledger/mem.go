package ledger

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryLedger is a thread-safe, in-memory Ledger. It is not durable and is
// meant for tests and for running without a data directory.
type MemoryLedger struct {
	mu      sync.RWMutex
	markers map[string]time.Time
	chats   map[string][]Record
	closed  bool
	now     func() time.Time
}

// Compile-time interface check.
var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		markers: make(map[string]time.Time),
		chats:   make(map[string][]Record),
		now:     time.Now,
	}
}

// IsProcessed implements Ledger.
func (l *MemoryLedger) IsProcessed(_ context.Context, id string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false, ErrClosed
	}
	_, ok := l.markers[id]
	return ok, nil
}

// MarkProcessed implements Ledger.
func (l *MemoryLedger) MarkProcessed(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrClosed
	}
	if _, ok := l.markers[id]; ok {
		return false, nil
	}
	l.markers[id] = l.now()
	return true, nil
}

// AppendHistory implements Ledger.
func (l *MemoryLedger) AppendHistory(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	// Keep each chat sorted by timestamp; equal timestamps keep append order.
	recs := l.chats[rec.ChatID]
	i := len(recs)
	for i > 0 && recs[i-1].Timestamp.After(rec.Timestamp) {
		i--
	}
	l.chats[rec.ChatID] = slices.Insert(recs, i, rec)
	return nil
}

// History implements Ledger.
func (l *MemoryLedger) History(_ context.Context, chatID string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	recs := l.chats[chatID]
	start := max(len(recs)-limit, 0)
	out := make([]Record, len(recs)-start)
	copy(out, recs[start:])
	return out, nil
}

// AllChats implements Ledger.
func (l *MemoryLedger) AllChats(_ context.Context) ([]ChatSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	out := make([]ChatSummary, 0, len(l.chats))
	for chatID, recs := range l.chats {
		if len(recs) == 0 {
			continue
		}
		last := recs[len(recs)-1]
		out = append(out, ChatSummary{
			ChatID:        chatID,
			LastMessage:   last.Content,
			LastTimestamp: last.Timestamp,
			MessageCount:  len(recs),
		})
	}
	slices.SortFunc(out, func(a, b ChatSummary) int {
		if c := b.LastTimestamp.Compare(a.LastTimestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ChatID, b.ChatID)
	})
	return out, nil
}

// ClearHistory implements Ledger.
func (l *MemoryLedger) ClearHistory(_ context.Context, chatID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	delete(l.chats, chatID)
	return nil
}

// PurgeMarkersOlderThan implements Ledger.
func (l *MemoryLedger) PurgeMarkersOlderThan(_ context.Context, horizon time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	var n int64
	for id, at := range l.markers {
		if at.Before(horizon) {
			delete(l.markers, id)
			n++
		}
	}
	return n, nil
}

// Close implements Ledger.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
