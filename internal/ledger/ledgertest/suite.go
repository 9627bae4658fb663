// Package ledgertest provides a conformance suite that every ledger.Ledger
// backend runs from its own tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/pkg/message"
)

// Factory returns a fresh, empty ledger. The suite closes it.
type Factory func(t *testing.T) ledger.Ledger

// Run executes the conformance suite against ledgers produced by newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Helper()

	t.Run("MarkProcessedClaimsOnce", func(t *testing.T) { testMarkProcessedClaimsOnce(t, newLedger) })
	t.Run("MarkProcessedEmptyID", func(t *testing.T) { testMarkProcessedEmptyID(t, newLedger) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newLedger) })
	t.Run("HistoryOrderAndLimit", func(t *testing.T) { testHistoryOrderAndLimit(t, newLedger) })
	t.Run("HistoryOutOfOrderAppend", func(t *testing.T) { testHistoryOutOfOrderAppend(t, newLedger) })
	t.Run("HistoryUnknownChat", func(t *testing.T) { testHistoryUnknownChat(t, newLedger) })
	t.Run("AllChats", func(t *testing.T) { testAllChats(t, newLedger) })
	t.Run("ClearHistoryKeepsMarkers", func(t *testing.T) { testClearHistoryKeepsMarkers(t, newLedger) })
	t.Run("PurgeMarkers", func(t *testing.T) { testPurgeMarkers(t, newLedger) })
	t.Run("AppendInvalid", func(t *testing.T) { testAppendInvalid(t, newLedger) })
}

func open(t *testing.T, newLedger Factory) ledger.Ledger {
	t.Helper()
	l := newLedger(t)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func record(chat, content string, offset time.Duration) ledger.Record {
	return ledger.Record{
		ChatID:    chat,
		Sender:    chat,
		Content:   content,
		Direction: message.DirectionInbound,
		Timestamp: base.Add(offset),
	}
}

func testMarkProcessedClaimsOnce(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	ctx := context.Background()

	seen, err := l.IsProcessed(ctx, "msg-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if seen {
		t.Fatal("fresh ledger reports msg-1 processed")
	}

	claimed, err := l.MarkProcessed(ctx, "msg-1")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !claimed {
		t.Fatal("first MarkProcessed should claim")
	}

	claimed, err = l.MarkProcessed(ctx, "msg-1")
	if err != nil {
		t.Fatalf("MarkProcessed again: %v", err)
	}
	if claimed {
		t.Fatal("second MarkProcessed should not claim")
	}

	seen, err = l.IsProcessed(ctx, "msg-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !seen {
		t.Fatal("msg-1 should be processed after MarkProcessed")
	}
}

func testMarkProcessedEmptyID(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	if _, err := l.MarkProcessed(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func testConcurrentClaim(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	ctx := context.Background()

	const (
		ids     = 20
		racers  = 8
		idFmt   = "race-%d"
		wantSum = ids
	)

	var (
		wg     sync.WaitGroup
		claims atomic.Int64
	)
	for r := 0; r < racers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < ids; i++ {
				ok, err := l.MarkProcessed(ctx, fmt.Sprintf(idFmt, i))
				if err != nil {
					t.Errorf("MarkProcessed: %v", err)
					return
				}
				if ok {
					claims.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := claims.Load(); got != wantSum {
		t.Errorf("got %d claims, want %d", got, wantSum)
	}
}

func testHistoryOrderAndLimit(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := record("+15550001", fmt.Sprintf("m%d", i), time.Duration(i)*time.Second)
		if err := l.AppendHistory(ctx, rec); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	got, err := l.History(ctx, "+15550001", 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []string{"m2", "m3", "m4"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i, rec := range got {
		if rec.Content != want[i] {
			t.Errorf("record %d: got %q, want %q", i, rec.Content, want[i])
		}
		if !rec.Timestamp.Equal(base.Add(time.Duration(i+2) * time.Second)) {
			t.Errorf("record %d: got timestamp %v", i, rec.Timestamp)
		}
		if rec.Direction != message.DirectionInbound {
			t.Errorf("record %d: got direction %q", i, rec.Direction)
		}
	}

	all, err := l.History(ctx, "+15550001", 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("got %d records with large limit, want 5", len(all))
	}
}

func testHistoryOutOfOrderAppend(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	ctx := context.Background()

	for _, rec := range []ledger.Record{
		record("chat", "late", 10*time.Second),
		record("chat", "early", time.Second),
		record("chat", "middle", 5*time.Second),
	} {
		if err := l.AppendHistory(ctx, rec); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	got, err := l.History(ctx, "chat", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []string{"early", "middle", "late"}
	for i, rec := range got {
		if rec.Content != want[i] {
			t.Errorf("record %d: got %q, want %q", i, rec.Content, want[i])
		}
	}
}

func testHistoryUnknownChat(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	got, err := l.History(context.Background(), "nobody", 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d records for unknown chat, want 0", len(got))
	}
}

func testAllChats(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	ctx := context.Background()

	recs := []ledger.Record{
		record("a", "a1", time.Second),
		record("b", "b1", 2*time.Second),
		record("a", "a2", 3*time.Second),
		record("c", "c1", 4*time.Second),
		record("b", "b2", 5*time.Second),
		record("b", "b3", 6*time.Second),
	}
	for _, rec := range recs {
		if err := l.AppendHistory(ctx, rec); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	got, err := l.AllChats(ctx)
	if err != nil {
		t.Fatalf("AllChats: %v", err)
	}

	want := []ledger.ChatSummary{
		{ChatID: "b", LastMessage: "b3", LastTimestamp: base.Add(6 * time.Second), MessageCount: 3},
		{ChatID: "c", LastMessage: "c1", LastTimestamp: base.Add(4 * time.Second), MessageCount: 1},
		{ChatID: "a", LastMessage: "a2", LastTimestamp: base.Add(3 * time.Second), MessageCount: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d chats, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ChatID != w.ChatID || g.LastMessage != w.LastMessage || g.MessageCount != w.MessageCount || !g.LastTimestamp.Equal(w.LastTimestamp) {
			t.Errorf("chat %d: got %+v, want %+v", i, g, w)
		}
	}
}

func testClearHistoryKeepsMarkers(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	ctx := context.Background()

	if _, err := l.MarkProcessed(ctx, "msg-x"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := l.AppendHistory(ctx, record("chat", "hello", 0)); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := l.AppendHistory(ctx, record("other", "keep", 0)); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	if err := l.ClearHistory(ctx, "chat"); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}

	got, err := l.History(ctx, "chat", 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d records after clear, want 0", len(got))
	}

	other, err := l.History(ctx, "other", 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("got %d records for other chat, want 1", len(other))
	}

	seen, err := l.IsProcessed(ctx, "msg-x")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !seen {
		t.Error("ClearHistory must not remove processed markers")
	}

	// Clearing an unknown chat is a no-op.
	if err := l.ClearHistory(ctx, "nobody"); err != nil {
		t.Errorf("ClearHistory unknown chat: %v", err)
	}
}

func testPurgeMarkers(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	ctx := context.Background()

	if _, err := l.MarkProcessed(ctx, "old"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	n, err := l.PurgeMarkersOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeMarkersOlderThan: %v", err)
	}
	if n != 0 {
		t.Errorf("purged %d fresh markers, want 0", n)
	}

	n, err = l.PurgeMarkersOlderThan(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeMarkersOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d markers, want 1", n)
	}

	claimed, err := l.MarkProcessed(ctx, "old")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !claimed {
		t.Error("purged id should be claimable again")
	}
}

func testAppendInvalid(t *testing.T, newLedger Factory) {
	l := open(t, newLedger)
	ctx := context.Background()

	if err := l.AppendHistory(ctx, ledger.Record{Direction: message.DirectionInbound}); err == nil {
		t.Error("expected error for empty chat id")
	}
	if err := l.AppendHistory(ctx, ledger.Record{ChatID: "c", Direction: "sideways"}); err == nil {
		t.Error("expected error for invalid direction")
	}
}
