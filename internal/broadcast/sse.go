package broadcast

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// sseConn writes server-sent events to a streaming response.
type sseConn struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *sseConn) write(ctx context.Context, chunk string) error {
	if deadline, ok := ctx.Deadline(); ok {
		// Not every ResponseWriter supports deadlines; that is fine.
		_ = s.rc.SetWriteDeadline(deadline)
	}
	if _, err := fmt.Fprint(s.w, chunk); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseConn) WriteEvent(ctx context.Context, data []byte) error {
	return s.write(ctx, "data: "+string(data)+"\n\n")
}

func (s *sseConn) WriteHeartbeat(ctx context.Context) error {
	return s.write(ctx, ": keep-alive\n\n")
}

// Close is a no-op: the stream ends when the handler returns.
func (s *sseConn) Close(string) error { return nil }

// SSEHandler returns the HTTP handler for server-sent-event subscribers.
func (b *Broadcaster) SSEHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if _, ok := w.(http.Flusher); !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		conn := &sseConn{w: w, rc: http.NewResponseController(w)}
		w.WriteHeader(http.StatusOK)
		_ = conn.rc.Flush()

		// From here on only the subscription writer touches w.
		sub, err := b.Subscribe(conn)
		if err != nil {
			_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
			return
		}

		select {
		case <-r.Context().Done():
		case <-sub.Done():
		}

		b.Unsubscribe(sub)

		// The writer must be gone before the ResponseWriter is released.
		select {
		case <-sub.Done():
		case <-time.After(b.cfg.WriteTimeout):
		}
	})
}
