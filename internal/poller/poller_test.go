package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/inbound"
	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/pkg/message"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	mu     sync.Mutex
	msgs   []message.InboundMessage
	err    error
	sinces []time.Time
	called chan struct{}
}

func newFakeFetcher(msgs []message.InboundMessage, err error) *fakeFetcher {
	return &fakeFetcher{msgs: msgs, err: err, called: make(chan struct{}, 16)}
}

func (f *fakeFetcher) FetchInbound(_ context.Context, since time.Time) ([]message.InboundMessage, error) {
	f.mu.Lock()
	f.sinces = append(f.sinces, since)
	msgs, err := f.msgs, f.err
	f.mu.Unlock()
	f.called <- struct{}{}
	return msgs, err
}

func (f *fakeFetcher) calls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.sinces...)
}

func (f *fakeFetcher) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.called:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch")
	}
}

type fakeSender struct {
	from string
	res  message.SendResult
	err  error
	sent []message.OutboundMessage
}

func (s *fakeSender) SendOutbound(_ context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	s.sent = append(s.sent, msg)
	return s.res, s.err
}

func (s *fakeSender) FromNumber() string { return s.from }

type recordingProcessor struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (p *recordingProcessor) Process(_ context.Context, msg message.InboundMessage, _ message.Source) (inbound.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, msg.ID)
	if p.fail[msg.ID] {
		return 0, errors.New("ledger unavailable")
	}
	return inbound.Delivered, nil
}

func (p *recordingProcessor) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestPoller(f Fetcher, s Sender, proc Processor, l ledger.Ledger, clk *clock) *Poller {
	p := New(Config{Interval: time.Hour, Lookback: 5 * time.Minute}, Deps{
		Fetcher:   f,
		Sender:    s,
		Processor: proc,
		Ledger:    l,
		Logger:    discardLogger(),
	})
	if clk != nil {
		p.now = clk.now
	}
	return p
}

func TestPoller_InitialCursorUsesLookback(t *testing.T) {
	t.Parallel()

	clk := &clock{t: epoch}
	f := newFakeFetcher(nil, nil)
	p := newTestPoller(f, nil, &recordingProcessor{}, nil, clk)

	if !p.Cursor().IsZero() {
		t.Fatalf("cursor before start = %v, want zero", p.Cursor())
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.wait(t)
	p.Stop()

	calls := f.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d fetches, want 1 immediate fetch", len(calls))
	}
	if want := epoch.Add(-5 * time.Minute); !calls[0].Equal(want) {
		t.Errorf("first since = %v, want %v", calls[0], want)
	}
	if !p.Cursor().Equal(epoch) {
		t.Errorf("cursor after cycle = %v, want cycle start %v", p.Cursor(), epoch)
	}
}

func TestPoller_FetchFailureStillAdvancesCursor(t *testing.T) {
	t.Parallel()

	clk := &clock{t: epoch}
	f := newFakeFetcher(nil, errors.New("provider down"))
	proc := &recordingProcessor{}
	p := newTestPoller(f, nil, proc, nil, clk)

	_ = p.Start()
	f.wait(t)
	p.Stop()

	if !p.Cursor().Equal(epoch) {
		t.Errorf("cursor = %v, want %v after failed cycle", p.Cursor(), epoch)
	}
	if len(proc.ids()) != 0 {
		t.Errorf("processed %v after fetch failure", proc.ids())
	}
}

func TestPoller_MessageFailureDoesNotAbortCycle(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher([]message.InboundMessage{
		{ID: "a", From: "+1555"},
		{ID: "b", From: "+1555"},
		{ID: "c", From: "+1555"},
	}, nil)
	proc := &recordingProcessor{fail: map[string]bool{"b": true}}
	p := newTestPoller(f, nil, proc, nil, &clock{t: epoch})

	_ = p.Start()
	f.wait(t)
	p.Stop()

	got := proc.ids()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("processed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("processed[%d] = %q, want %q (provider order)", i, got[i], want[i])
		}
	}
}

func TestPoller_StartIdempotent(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(nil, nil)
	p := newTestPoller(f, nil, &recordingProcessor{}, nil, &clock{t: epoch})

	_ = p.Start()
	if err := p.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !p.Running() {
		t.Fatal("Running() = false after Start")
	}
	f.wait(t)
	p.Stop()
	p.Stop()

	if p.Running() {
		t.Error("Running() = true after Stop")
	}
	if n := len(f.calls()); n != 1 {
		t.Errorf("got %d fetches, want 1 (single loop)", n)
	}
}

func TestPoller_StartAfterClose(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(nil, nil)
	p := newTestPoller(f, nil, &recordingProcessor{}, nil, &clock{t: epoch})

	_ = p.Start()
	f.wait(t)
	p.Close()

	if err := p.Start(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close = %v, want ErrClosed", err)
	}
	if p.Running() {
		t.Error("Running() = true after Close")
	}
	p.Close()
}

func TestPoller_RestartKeepsCursor(t *testing.T) {
	t.Parallel()

	clk := &clock{t: epoch}
	f := newFakeFetcher(nil, nil)
	p := newTestPoller(f, nil, &recordingProcessor{}, nil, clk)

	_ = p.Start()
	f.wait(t)
	p.Stop()

	clk.advance(time.Minute)
	_ = p.Start()
	f.wait(t)
	p.Stop()

	calls := f.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d fetches, want 2", len(calls))
	}
	if !calls[1].Equal(epoch) {
		t.Errorf("second since = %v, want previous cycle start %v", calls[1], epoch)
	}
	if want := epoch.Add(time.Minute); !p.Cursor().Equal(want) {
		t.Errorf("cursor = %v, want %v", p.Cursor(), want)
	}
}

func TestPoller_CursorNeverMovesBackward(t *testing.T) {
	t.Parallel()

	p := newTestPoller(newFakeFetcher(nil, nil), nil, &recordingProcessor{}, nil, nil)
	p.advance(epoch)
	p.advance(epoch.Add(-time.Hour))
	if !p.Cursor().Equal(epoch) {
		t.Errorf("cursor = %v, want %v", p.Cursor(), epoch)
	}
}

func TestPoller_IntervalTicks(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher(nil, nil)
	p := New(Config{Interval: 100 * time.Millisecond}, Deps{
		Fetcher:   f,
		Processor: &recordingProcessor{},
		Logger:    discardLogger(),
	})

	_ = p.Start()
	f.wait(t)
	f.wait(t)
	p.Stop()

	if n := len(f.calls()); n < 2 {
		t.Errorf("got %d fetches, want at least 2", n)
	}
}

func TestPoller_SendMessageRecordsHistory(t *testing.T) {
	t.Parallel()

	l := ledger.NewMemoryLedger()
	s := &fakeSender{from: "+15550000000", res: message.SendResult{MessageID: "out-1"}}
	p := newTestPoller(newFakeFetcher(nil, nil), s, &recordingProcessor{}, l, &clock{t: epoch})
	ctx := context.Background()

	res, err := p.SendMessage(ctx, "+15551112222", "see attached", "https://cdn.example/p.jpg")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.MessageID != "out-1" {
		t.Errorf("MessageID = %q, want out-1", res.MessageID)
	}
	if len(s.sent) != 1 || s.sent[0].MediaURL != "https://cdn.example/p.jpg" {
		t.Fatalf("sent %+v", s.sent)
	}

	recs, err := l.History(ctx, "+15551112222", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Direction != message.DirectionOutbound || rec.Sender != "+15550000000" {
		t.Errorf("record = %+v", rec)
	}
	if want := "see attached\n[Media: https://cdn.example/p.jpg]"; rec.Content != want {
		t.Errorf("content = %q, want %q", rec.Content, want)
	}
	if !rec.Timestamp.Equal(epoch) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, epoch)
	}
}

func TestPoller_SendMessageErrorPropagates(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("provider rejected")
	l := ledger.NewMemoryLedger()
	s := &fakeSender{from: "+15550000000", err: sendErr}
	p := newTestPoller(newFakeFetcher(nil, nil), s, &recordingProcessor{}, l, nil)

	_, err := p.SendMessage(context.Background(), "+15551112222", "hi", "")
	if err != sendErr {
		t.Fatalf("err = %v, want the provider error unchanged", err)
	}

	chats, _ := l.AllChats(context.Background())
	if len(chats) != 0 {
		t.Errorf("history written for failed send: %+v", chats)
	}
}

func TestConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{}.WithDefaults()
	if cfg.Interval != 5*time.Second || cfg.Lookback != 5*time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := (Config{Interval: time.Millisecond}).Validate(); err == nil {
		t.Error("expected error for tiny interval")
	}
	if err := (Config{Lookback: -time.Second}).Validate(); err == nil {
		t.Error("expected error for negative lookback")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}
