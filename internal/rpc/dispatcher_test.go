package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/pkg/message"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePoller struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	cursor  time.Time
	sendErr error
	history ledger.Ledger
	panics  bool
}

func (p *fakePoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	p.running = true
	return nil
}

func (p *fakePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.running = false
}

func (p *fakePoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakePoller) Cursor() time.Time { return p.cursor }

func (p *fakePoller) SendMessage(ctx context.Context, to, content, _ string) (message.SendResult, error) {
	if p.panics {
		panic("provider client exploded")
	}
	if p.sendErr != nil {
		return message.SendResult{}, p.sendErr
	}
	_ = p.history.AppendHistory(ctx, ledger.Record{
		ChatID: to, Sender: "+15550000000", Content: content,
		Direction: message.DirectionOutbound, Timestamp: time.Now(),
	})
	return message.SendResult{MessageID: "sb-1"}, nil
}

type fixedSubscribers int

func (n fixedSubscribers) Len() int { return int(n) }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakePoller, ledger.Ledger) {
	t.Helper()
	l := ledger.NewMemoryLedger()
	p := &fakePoller{history: l}
	d := NewDispatcher(Deps{
		Poller:      p,
		History:     l,
		Subscribers: fixedSubscribers(2),
		Logger:      discardLogger(),
		Version:     "1.2.3",
	})
	return d, p, l
}

type decoded struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func call(t *testing.T, d *Dispatcher, raw string) decoded {
	t.Helper()
	out := d.Handle(context.Background(), []byte(raw))
	var resp decoded
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("response %s is not JSON: %v", out, err)
	}
	return resp
}

func wantCode(t *testing.T, resp decoded, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Fatalf("error code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

func TestHandle_EnvelopeErrors(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)

	tests := []struct {
		name string
		raw  string
		code int
	}{
		{name: "malformed", raw: `{"method":`, code: CodeParseError},
		{name: "garbage", raw: `not json`, code: CodeParseError},
		{name: "array", raw: `[1]`, code: CodeInvalidRequest},
		{name: "no method", raw: `{"id":1}`, code: CodeInvalidRequest},
		{name: "method wrong type", raw: `{"method":7}`, code: CodeInvalidRequest},
		{name: "unknown method", raw: `{"method":"chats.delete","id":1}`, code: CodeMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := call(t, d, tt.raw)
			wantCode(t, resp, tt.code)
			if resp.JSONRPC != Version {
				t.Errorf("jsonrpc = %q", resp.JSONRPC)
			}
		})
	}
}

func TestHandle_EchoesID(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)

	if resp := call(t, d, `{"method":"status","id":"abc"}`); string(resp.ID) != `"abc"` {
		t.Errorf("id = %s, want \"abc\"", resp.ID)
	}
	if resp := call(t, d, `{"method":"status","id":42}`); string(resp.ID) != `42` {
		t.Errorf("id = %s, want 42", resp.ID)
	}
	if resp := call(t, d, `{"method":"status"}`); string(resp.ID) != `null` {
		t.Errorf("id = %s, want null", resp.ID)
	}
}

func TestWatchSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	d, p, _ := newTestDispatcher(t)

	resp := call(t, d, `{"method":"watch.subscribe","id":1}`)
	if resp.Error != nil || string(resp.Result) != `{"subscribed":true}` {
		t.Fatalf("subscribe = %s %+v", resp.Result, resp.Error)
	}
	call(t, d, `{"method":"watch.subscribe","id":2}`)
	if !p.Running() {
		t.Error("poller not running after subscribe")
	}

	resp = call(t, d, `{"method":"watch.unsubscribe","id":3}`)
	if resp.Error != nil || string(resp.Result) != `{"unsubscribed":true}` {
		t.Fatalf("unsubscribe = %s %+v", resp.Result, resp.Error)
	}
	call(t, d, `{"method":"watch.unsubscribe","id":4}`)
	if p.Running() {
		t.Error("poller running after unsubscribe")
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	d, _, l := newTestDispatcher(t)

	resp := call(t, d, `{"method":"send","params":{"to":"+15551234567","content":"hello"},"id":1}`)
	if resp.Error != nil {
		t.Fatalf("send error: %+v", resp.Error)
	}
	var res SendResult
	if err := json.Unmarshal(resp.Result, &res); err != nil || res.MessageID != "sb-1" {
		t.Fatalf("result = %s, err %v", resp.Result, err)
	}

	recs, _ := l.History(context.Background(), "+15551234567", 10)
	if len(recs) != 1 || recs[0].Direction != message.DirectionOutbound {
		t.Errorf("history = %+v, want one outbound record", recs)
	}
}

func TestSend_InvalidParams(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)

	for _, raw := range []string{
		`{"method":"send"}`,
		`{"method":"send","params":{"content":"hello"}}`,
		`{"method":"send","params":{"to":"+1555"}}`,
		`{"method":"send","params":{"to":123,"content":"x"}}`,
		`{"method":"send","params":"oops"}`,
	} {
		wantCode(t, call(t, d, raw), CodeInvalidParams)
	}
}

func TestSend_CollaboratorFailureIsInternal(t *testing.T) {
	t.Parallel()

	d, p, _ := newTestDispatcher(t)
	p.sendErr = errors.New("provider unavailable")

	resp := call(t, d, `{"method":"send","params":{"to":"+1555","content":"x"},"id":9}`)
	wantCode(t, resp, CodeInternalError)
	if string(resp.ID) != "9" {
		t.Errorf("id = %s, want 9", resp.ID)
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	t.Parallel()

	d, p, _ := newTestDispatcher(t)
	p.panics = true

	wantCode(t, call(t, d, `{"method":"send","params":{"to":"+1555","content":"x"}}`), CodeInternalError)

	// The dispatcher keeps serving afterwards.
	if resp := call(t, d, `{"method":"status"}`); resp.Error != nil {
		t.Errorf("status after panic: %+v", resp.Error)
	}
}

func seedHistory(t *testing.T, l ledger.Ledger, chat string, n int) {
	t.Helper()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := range n {
		err := l.AppendHistory(context.Background(), ledger.Record{
			ChatID:    chat,
			Sender:    chat,
			Content:   string(rune('a' + i)),
			Direction: message.DirectionInbound,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
}

func TestChatsHistory(t *testing.T) {
	t.Parallel()

	d, _, l := newTestDispatcher(t)
	seedHistory(t, l, "+15551234567", 3)

	for _, key := range []string{"chat_id", "chatId"} {
		resp := call(t, d, `{"method":"chats.history","params":{"`+key+`":"+15551234567","limit":1}}`)
		if resp.Error != nil {
			t.Fatalf("%s: error %+v", key, resp.Error)
		}
		var recs []ledger.Record
		if err := json.Unmarshal(resp.Result, &recs); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(recs) != 1 || recs[0].Content != "c" {
			t.Errorf("%s: got %+v, want only the most recent record", key, recs)
		}
	}

	resp := call(t, d, `{"method":"chats.history","params":{"chatId":"+15551234567"}}`)
	var recs []ledger.Record
	_ = json.Unmarshal(resp.Result, &recs)
	if len(recs) != 3 || recs[0].Content != "a" || recs[2].Content != "c" {
		t.Errorf("default limit: got %+v", recs)
	}

	resp = call(t, d, `{"method":"chats.history","params":{"chatId":"+19999999999"}}`)
	if string(resp.Result) != "[]" {
		t.Errorf("unknown chat result = %s, want []", resp.Result)
	}
}

func TestChatsHistory_InvalidParams(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	wantCode(t, call(t, d, `{"method":"chats.history"}`), CodeInvalidParams)
	wantCode(t, call(t, d, `{"method":"chats.history","params":{"chatId":"x","limit":0}}`), CodeInvalidParams)
	wantCode(t, call(t, d, `{"method":"chats.clear","params":{}}`), CodeInvalidParams)
}

func TestChatsListAndClear(t *testing.T) {
	t.Parallel()

	d, _, l := newTestDispatcher(t)

	if resp := call(t, d, `{"method":"chats.list"}`); string(resp.Result) != "[]" {
		t.Errorf("empty chats.list = %s, want []", resp.Result)
	}

	seedHistory(t, l, "+1111", 2)
	seedHistory(t, l, "+2222", 1)

	var chats []ledger.ChatSummary
	_ = json.Unmarshal(call(t, d, `{"method":"chats.list"}`).Result, &chats)
	if len(chats) != 2 {
		t.Fatalf("chats = %+v, want 2", chats)
	}

	resp := call(t, d, `{"method":"chats.clear","params":{"chat_id":"+1111"}}`)
	if resp.Error != nil || string(resp.Result) != `{"cleared":true}` {
		t.Fatalf("clear = %s %+v", resp.Result, resp.Error)
	}
	chats = nil
	_ = json.Unmarshal(call(t, d, `{"method":"chats.list"}`).Result, &chats)
	if len(chats) != 1 || chats[0].ChatID != "+2222" {
		t.Errorf("chats after clear = %+v", chats)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	d, p, _ := newTestDispatcher(t)
	p.cursor = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_ = p.Start()

	var st StatusResult
	if err := json.Unmarshal(call(t, d, `{"method":"status"}`).Result, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Running || st.Version != "1.2.3" || st.Subscribers != 2 {
		t.Errorf("status = %+v", st)
	}
	if st.Cursor == nil || !st.Cursor.Equal(p.cursor) {
		t.Errorf("cursor = %v, want %v", st.Cursor, p.cursor)
	}
}
