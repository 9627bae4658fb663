package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/internal/rpc"
	"github.com/flemzord/sbridge/pkg/message"
)

// stubFetcher returns the same messages on every cycle. When gate is set the
// first fetch waits for it.
type stubFetcher struct {
	msgs  []message.InboundMessage
	gate  chan struct{}
	calls atomic.Int32
}

func (f *stubFetcher) FetchInbound(ctx context.Context, _ time.Time) ([]message.InboundMessage, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.msgs, nil
}

// eventRecorder is a subscriber transport that keeps message events.
type eventRecorder struct {
	mu     sync.Mutex
	events []message.MessageParams
}

func (r *eventRecorder) WriteEvent(_ context.Context, data []byte) error {
	var evt struct {
		Method string                `json:"method"`
		Params message.MessageParams `json:"params"`
	}
	if err := json.Unmarshal(data, &evt); err != nil || evt.Method != message.MethodMessage {
		return nil
	}
	r.mu.Lock()
	r.events = append(r.events, evt.Params)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) WriteHeartbeat(context.Context) error { return nil }
func (r *eventRecorder) Close(string) error                   { return nil }

func (r *eventRecorder) snapshot() []message.MessageParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.MessageParams(nil), r.events...)
}

func startBridge(t *testing.T, fetcher *stubFetcher) (*Bridge, *eventRecorder) {
	t.Helper()
	cfg, _, err := LoadConfig(memoryConfig(t), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	bridge, err := Wire(context.Background(), cfg, WireParams{Version: "test", Output: io.Discard, Fetcher: fetcher})
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	if err := bridge.App.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(bridge.App.Stop)

	rec := &eventRecorder{}
	if _, err := bridge.Broadcaster.Subscribe(rec); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return bridge, rec
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func chatHistory(t *testing.T, l ledger.Ledger, chat string) []ledger.Record {
	t.Helper()
	recs, err := l.History(context.Background(), chat, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	return recs
}

func TestPipeline_PollSkipsAlreadyMarked(t *testing.T) {
	const chat = "+15551112222"
	sent := time.Now().Add(-time.Second)
	fetcher := &stubFetcher{msgs: []message.InboundMessage{
		{ID: "a", From: chat, Content: "old", SentAt: sent, Direction: message.DirectionInbound},
		{ID: "b", From: chat, Content: "new", SentAt: sent, Direction: message.DirectionInbound},
	}}
	bridge, rec := startBridge(t, fetcher)

	if claimed, err := bridge.Ledger.MarkProcessed(context.Background(), "a"); err != nil || !claimed {
		t.Fatalf("MarkProcessed(a) = %t, %v", claimed, err)
	}
	if err := bridge.Poller.Start(); err != nil {
		t.Fatalf("Poller.Start: %v", err)
	}
	eventually(t, "event for b", func() bool { return len(rec.snapshot()) > 0 })
	bridge.Poller.Stop()

	events := rec.snapshot()
	if len(events) != 1 || events[0].MessageID != "b" || events[0].Content != "new" {
		t.Errorf("events = %+v, want only b", events)
	}
	recs := chatHistory(t, bridge.Ledger, chat)
	if len(recs) != 1 || recs[0].Content != "new" {
		t.Errorf("history = %+v, want only b", recs)
	}
}

func TestPipeline_PollAndWebhookRaceDeliverOnce(t *testing.T) {
	const chat = "+15551112222"
	gate := make(chan struct{})
	fetcher := &stubFetcher{
		gate: gate,
		msgs: []message.InboundMessage{
			{ID: "m-race", From: chat, Content: "hello", SentAt: time.Now(), Direction: message.DirectionInbound},
		},
	}
	bridge, rec := startBridge(t, fetcher)

	if err := bridge.Poller.Start(); err != nil {
		t.Fatalf("Poller.Start: %v", err)
	}
	eventually(t, "poll fetch in flight", func() bool { return fetcher.calls.Load() > 0 })

	body := `{"message_handle":"m-race","from_number":"+15551112222","content":"hello","is_outbound":false}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/sendblue", strings.NewReader(body))
	req.Header.Set("X-Webhook-Secret", "hook-secret")
	w := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		close(gate)
	}()
	go func() {
		defer wg.Done()
		bridge.Gateway.Handler().ServeHTTP(w, req)
	}()
	wg.Wait()
	if w.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, body %s", w.Code, w.Body.String())
	}

	eventually(t, "delivered event", func() bool { return len(rec.snapshot()) > 0 })
	// Let the losing producer finish before stopping.
	bridge.Poller.Stop()
	time.Sleep(100 * time.Millisecond)

	if events := rec.snapshot(); len(events) != 1 || events[0].MessageID != "m-race" {
		t.Errorf("events = %+v, want exactly one", events)
	}
	if recs := chatHistory(t, bridge.Ledger, chat); len(recs) != 1 {
		t.Errorf("history has %d records, want 1", len(recs))
	}
}

func TestPipeline_SubscribeDuringShutdownRejected(t *testing.T) {
	bridge, _ := startBridge(t, &stubFetcher{})
	bridge.App.Stop()

	_, rpcErr := bridge.Dispatcher.Dispatch(context.Background(), rpc.MethodWatchSubscribe, nil)
	if rpcErr == nil || rpcErr.Code != rpc.CodeInternalError {
		t.Fatalf("watch.subscribe after stop = %+v, want internal error", rpcErr)
	}
	if bridge.Poller.Running() {
		t.Error("poller restarted after shutdown")
	}
}
