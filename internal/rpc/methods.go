package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/sbridge/internal/ledger"
)

// Method names.
const (
	MethodWatchSubscribe   = "watch.subscribe"
	MethodWatchUnsubscribe = "watch.unsubscribe"
	MethodSend             = "send"
	MethodChatsList        = "chats.list"
	MethodChatsHistory     = "chats.history"
	MethodChatsClear       = "chats.clear"
	MethodStatus           = "status"
)

// DefaultHistoryLimit applies when chats.history omits limit.
const DefaultHistoryLimit = 50

// SendParams are the parameters of send.
type SendParams struct {
	To      string `json:"to"`
	Content string `json:"content"`
	Media   string `json:"media,omitempty"`
}

// ChatParams identify a chat. Both spellings of the key are accepted.
type ChatParams struct {
	ChatID    string `json:"chatId"`
	ChatIDAlt string `json:"chat_id"`
	Limit     *int   `json:"limit,omitempty"`
}

func (p ChatParams) chat() string {
	if p.ChatID != "" {
		return p.ChatID
	}
	return p.ChatIDAlt
}

// SendResult is the result of send.
type SendResult struct {
	MessageID string `json:"messageId"`
}

// StatusResult is the result of status.
type StatusResult struct {
	Running     bool       `json:"running"`
	Version     string     `json:"version"`
	Cursor      *time.Time `json:"cursor,omitempty"`
	Subscribers int        `json:"subscribers"`
}

func (d *Dispatcher) watchSubscribe(_ context.Context, _ json.RawMessage) (any, error) {
	if err := d.poller.Start(); err != nil {
		return nil, fmt.Errorf("start poller: %w", err)
	}
	return map[string]bool{"subscribed": true}, nil
}

func (d *Dispatcher) watchUnsubscribe(_ context.Context, _ json.RawMessage) (any, error) {
	d.poller.Stop()
	return map[string]bool{"unsubscribed": true}, nil
}

func (d *Dispatcher) send(ctx context.Context, params json.RawMessage) (any, error) {
	var p SendParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.To) == "" {
		return nil, invalidParams("missing required param: to")
	}
	if p.Content == "" {
		return nil, invalidParams("missing required param: content")
	}

	res, err := d.poller.SendMessage(ctx, p.To, p.Content, p.Media)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return SendResult{MessageID: res.MessageID}, nil
}

func (d *Dispatcher) chatsList(ctx context.Context, _ json.RawMessage) (any, error) {
	chats, err := d.history.AllChats(ctx)
	if err != nil {
		return nil, err
	}
	if chats == nil {
		chats = []ledger.ChatSummary{}
	}
	return chats, nil
}

func (d *Dispatcher) chatsHistory(ctx context.Context, params json.RawMessage) (any, error) {
	var p ChatParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	chatID := p.chat()
	if chatID == "" {
		return nil, invalidParams("missing required param: chatId")
	}
	limit := DefaultHistoryLimit
	if p.Limit != nil {
		if *p.Limit <= 0 {
			return nil, invalidParams("limit must be positive, got %d", *p.Limit)
		}
		limit = *p.Limit
	}

	recs, err := d.history.History(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []ledger.Record{}
	}
	return recs, nil
}

func (d *Dispatcher) chatsClear(ctx context.Context, params json.RawMessage) (any, error) {
	var p ChatParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	chatID := p.chat()
	if chatID == "" {
		return nil, invalidParams("missing required param: chatId")
	}
	if err := d.history.ClearHistory(ctx, chatID); err != nil {
		return nil, err
	}
	return map[string]bool{"cleared": true}, nil
}

func (d *Dispatcher) status(_ context.Context, _ json.RawMessage) (any, error) {
	res := StatusResult{
		Running: d.poller.Running(),
		Version: d.version,
	}
	if c := d.poller.Cursor(); !c.IsZero() {
		res.Cursor = &c
	}
	if d.subscribers != nil {
		res.Subscribers = d.subscribers.Len()
	}
	return res, nil
}
