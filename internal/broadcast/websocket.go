package broadcast

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

const maxCommandBytes = 1 << 20

// CommandHandler answers one raw command request. A nil reply sends nothing.
type CommandHandler interface {
	Handle(ctx context.Context, raw []byte) []byte
}

// wsConn adapts a WebSocket connection to Conn.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) WriteEvent(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

// WriteHeartbeat sends a ping; the handler read loop processes the pong.
func (w *wsConn) WriteHeartbeat(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusGoingAway, reason)
}

// WebSocketHandler returns the HTTP handler for WebSocket subscribers.
// Text frames received from the subscriber are passed to cmds, and replies
// are queued on the same subscription so they interleave with events.
func (b *Broadcaster) WebSocketHandler(cmds CommandHandler, opts *websocket.AcceptOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, opts)
		if err != nil {
			b.logger.Warn("websocket accept failed", "error", err)
			return
		}
		c.SetReadLimit(maxCommandBytes)

		sub, err := b.Subscribe(&wsConn{c: c})
		if err != nil {
			status := websocket.StatusTryAgainLater
			if errors.Is(err, ErrShutdown) {
				status = websocket.StatusGoingAway
			}
			_ = c.Close(status, err.Error())
			return
		}
		defer b.Unsubscribe(sub)

		b.readLoop(r.Context(), c, sub, cmds)
	})
}

func (b *Broadcaster) readLoop(ctx context.Context, c *websocket.Conn, sub *Subscription, cmds CommandHandler) {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText || cmds == nil {
			continue
		}
		if reply := cmds.Handle(ctx, data); reply != nil {
			if !b.Send(sub, reply) {
				return
			}
		}
	}
}
