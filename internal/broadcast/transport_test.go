package broadcast

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/sbridge/pkg/message"
)

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, raw []byte) []byte {
	return append([]byte(`{"echo":`), append(raw, '}')...)
}

func TestWebSocketHandler_EventsAndCommands(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(t, Config{})
	srv := httptest.NewServer(b.WebSocketHandler(echoHandler{}, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var ack message.Connected
	if err := json.Unmarshal(data, &ack); err != nil || !ack.Connected || ack.ID == "" {
		t.Fatalf("got ack %s (err %v)", data, err)
	}

	waitFor(t, func() bool { return b.Len() == 1 })
	b.Publish(message.Event{Method: message.MethodMessage})

	_, data, err = c.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if !strings.Contains(string(data), `"method":"message"`) {
		t.Errorf("got %s, want message event", data)
	}

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"method":"status"}`)); err != nil {
		t.Fatalf("write command: %v", err)
	}
	_, data, err = c.Read(ctx)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(data) != `{"echo":{"method":"status"}}` {
		t.Errorf("got reply %s", data)
	}

	_ = c.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return b.Len() == 0 })
}

func TestSSEHandler_StreamsEventsAndHeartbeats(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(t, Config{Heartbeat: 20 * time.Millisecond})
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(b.SSEHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("got content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		t.Helper()
		for lines.Scan() {
			if l := lines.Text(); l != "" {
				return l
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if l := next(); !strings.HasPrefix(l, `data: {"connected":true`) {
		t.Fatalf("got first line %q, want connected ack", l)
	}

	waitFor(t, func() bool { return b.Len() == 1 })
	b.Publish(message.Event{Method: message.MethodMessage})

	var sawEvent, sawHeartbeat bool
	for !sawEvent || !sawHeartbeat {
		l := next()
		switch {
		case strings.HasPrefix(l, `data: {"method":"message"`):
			sawEvent = true
		case l == ": keep-alive":
			sawHeartbeat = true
		}
	}
}

func TestSSEHandler_RejectsPost(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(t, Config{})
	rec := httptest.NewRecorder()
	b.SSEHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("got status %d, want 405", rec.Code)
	}
}
