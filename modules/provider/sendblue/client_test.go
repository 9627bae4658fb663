package sendblue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:    url,
		APIKey:     "key-id",
		APISecret:  "secret-key",
		FromNumber: "+15550000000",
	})
}

func TestFetchInbound(t *testing.T) {
	t.Parallel()

	since := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v2/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("sb-api-key-id"); got != "key-id" {
			t.Errorf("sb-api-key-id = %q", got)
		}
		if got := r.Header.Get("sb-api-secret-key"); got != "secret-key" {
			t.Errorf("sb-api-secret-key = %q", got)
		}
		if got := r.URL.Query().Get("updated_after"); got != "2025-05-01T10:00:00Z" {
			t.Errorf("updated_after = %q", got)
		}

		writeJSON(t, w, map[string]any{"data": []Message{
			{MessageHandle: "h1", Content: "hi", FromNumber: "+15551112222", ToNumber: "+15550000000", DateSent: "2025-05-01T10:00:01.5Z"},
			{MessageHandle: "h2", Content: "sent", Number: "+15551112222", IsOutbound: true, DateSent: "2025-05-01T10:00:02Z"},
			{MessageHandle: "", Content: "no handle"},
		}})
	}))
	defer srv.Close()

	msgs, err := newTestClient(srv.URL).FetchInbound(context.Background(), since)
	if err != nil {
		t.Fatalf("FetchInbound: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	if msgs[0].ID != "h1" || msgs[0].From != "+15551112222" || msgs[0].Direction != message.DirectionInbound {
		t.Errorf("msg 0 = %+v", msgs[0])
	}
	if want := time.Date(2025, 5, 1, 10, 0, 1, 5e8, time.UTC); !msgs[0].SentAt.Equal(want) {
		t.Errorf("msg 0 SentAt = %v, want %v", msgs[0].SentAt, want)
	}
	if !msgs[1].IsOutbound() || msgs[1].ChatID() != "+15551112222" {
		t.Errorf("msg 1 = %+v", msgs[1])
	}
}

func TestFetchInbound_BareArrayAndPaging(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch n {
		case 1:
			if r.URL.Query().Get("offset") != "" {
				t.Errorf("first page should have no offset")
			}
			writeJSON(t, w, []Message{{MessageHandle: "a"}, {MessageHandle: "b"}})
		default:
			if got := r.URL.Query().Get("offset"); got != "2" {
				t.Errorf("offset = %q, want 2", got)
			}
			writeJSON(t, w, []Message{{MessageHandle: "c"}})
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", APISecret: "s", PageLimit: 2})
	msgs, err := c.FetchInbound(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("FetchInbound: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("got %d messages, want 3", len(msgs))
	}
	if calls.Load() != 2 {
		t.Errorf("got %d calls, want 2", calls.Load())
	}
}

func TestFetchInbound_LargeBacklog(t *testing.T) {
	t.Parallel()

	const total = 1500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		var page []Message
		for i := offset; i < total && i < offset+limit; i++ {
			page = append(page, Message{MessageHandle: fmt.Sprintf("h%d", i), FromNumber: "+15551112222"})
		}
		writeJSON(t, w, page)
	}))
	defer srv.Close()

	msgs, err := newTestClient(srv.URL).FetchInbound(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("FetchInbound: %v", err)
	}
	if len(msgs) != total {
		t.Fatalf("got %d messages, want %d", len(msgs), total)
	}
	if msgs[total-1].ID != fmt.Sprintf("h%d", total-1) {
		t.Errorf("last message = %q", msgs[total-1].ID)
	}
}

func TestFetchInbound_OffsetIgnored(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []Message{{MessageHandle: "a"}, {MessageHandle: "b"}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", APISecret: "s", PageLimit: 2})
	msgs, err := c.FetchInbound(context.Background(), time.Now())
	if !errors.Is(err, ErrPagingStalled) {
		t.Fatalf("err = %v, want ErrPagingStalled", err)
	}
	if msgs != nil {
		t.Errorf("msgs = %v, want nil", msgs)
	}
}

func TestSendOutbound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/send-message" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req sendRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		if req.Number != "+15551112222" || req.Content != "hello" || req.MediaURL != "https://cdn/x.png" || req.FromNumber != "+15550000000" {
			t.Errorf("got request %+v", req)
		}
		writeJSON(t, w, sendResponse{MessageHandle: "out-1", Status: "QUEUED"})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).SendOutbound(context.Background(), message.OutboundMessage{
		To: "+15551112222", Content: "hello", MediaURL: "https://cdn/x.png",
	})
	if err != nil {
		t.Fatalf("SendOutbound: %v", err)
	}
	if res.MessageID != "out-1" {
		t.Errorf("MessageID = %q, want out-1", res.MessageID)
	}
}

func TestSendOutbound_FailedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, sendResponse{Status: "ERROR", ErrorMessage: "invalid number"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).SendOutbound(context.Background(), message.OutboundMessage{To: "+1", Content: "x"})
	if !errors.Is(err, ErrFailed) {
		t.Errorf("got %v, want ErrFailed", err)
	}
}

func TestSendOutbound_MissingRecipient(t *testing.T) {
	t.Parallel()
	if _, err := newTestClient("http://unused").SendOutbound(context.Background(), message.OutboundMessage{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDo_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad credentials"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchInbound(context.Background(), time.Now())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %T %v, want *APIError", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "bad credentials" {
		t.Errorf("got %+v", apiErr)
	}
	if apiErr.Temporary() {
		t.Error("401 should not be temporary")
	}
}

func TestDo_RetriesOn429(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(t, w, sendResponse{MessageHandle: "ok"})
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).SendOutbound(context.Background(), message.OutboundMessage{To: "+1", Content: "x"})
	if err != nil {
		t.Fatalf("SendOutbound: %v", err)
	}
	if res.MessageID != "ok" || calls.Load() != 2 {
		t.Errorf("got %q after %d calls", res.MessageID, calls.Load())
	}
}

func TestDo_429ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).FetchInbound(ctx, time.Now())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	fallback := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "", want: fallback},
		{in: "garbage", want: fallback},
		{in: "2025-05-01T10:00:00Z", want: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2025-05-01T12:00:00+02:00", want: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2025-05-01 10:00:00", want: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := ParseTimestamp(tt.in, fallback); !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (Config{}).Validate(); err == nil {
		t.Error("expected error for missing credentials")
	}
	if err := (Config{APIKey: "k", APISecret: "s", BaseURL: "ftp://x"}).Validate(); err == nil {
		t.Error("expected error for non-http base_url")
	}
	if err := (Config{APIKey: "k", APISecret: "s"}.WithDefaults()).Validate(); err != nil {
		t.Errorf("valid config: %v", err)
	}
}
