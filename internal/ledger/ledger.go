// Package ledger defines the Dedup Ledger: the durable set of processed
// message identifiers plus per-chat conversation history. It is the only
// state shared by the poller and the webhook ingestors.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

// Sentinel errors for ledger operations.
var (
	// ErrEmptyID is returned when a message identifier is empty.
	ErrEmptyID = errors.New("ledger: empty message id")

	// ErrEmptyChat is returned when a chat identifier is empty.
	ErrEmptyChat = errors.New("ledger: empty chat id")

	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("ledger: closed")
)

// Ledger is the Dedup Ledger contract. Every method is safe for concurrent use.
type Ledger interface {
	// IsProcessed reports whether a marker exists for id.
	IsProcessed(ctx context.Context, id string) (bool, error)

	// MarkProcessed atomically records a marker for id if none exists.
	// claimed is true only for the call that performed the unmarked to
	// marked transition; every later call for the same id returns false.
	MarkProcessed(ctx context.Context, id string) (claimed bool, err error)

	// AppendHistory appends a conversation record.
	AppendHistory(ctx context.Context, rec Record) error

	// History returns at most limit of the most recent records for chatID,
	// oldest first.
	History(ctx context.Context, chatID string, limit int) ([]Record, error)

	// AllChats returns one summary per distinct chat, most recent first.
	AllChats(ctx context.Context) ([]ChatSummary, error)

	// ClearHistory deletes every record for chatID. Markers are untouched.
	ClearHistory(ctx context.Context, chatID string) error

	// PurgeMarkersOlderThan deletes markers processed before horizon and
	// returns how many were removed.
	PurgeMarkersOlderThan(ctx context.Context, horizon time.Time) (int64, error)

	// Close releases the underlying store.
	Close() error
}

// Record is one ConversationRecord. Records are append-only per chat.
type Record struct {
	ChatID    string            `json:"chatId"`
	Sender    string            `json:"sender"`
	Content   string            `json:"content"`
	Direction message.Direction `json:"direction"`
	Timestamp time.Time         `json:"timestamp"`
}

// Validate checks the fields required to store a record.
func (r Record) Validate() error {
	if r.ChatID == "" {
		return ErrEmptyChat
	}
	switch r.Direction {
	case message.DirectionInbound, message.DirectionOutbound:
	default:
		return fmt.Errorf("ledger: invalid direction %q", r.Direction)
	}
	return nil
}

// ChatSummary is derived at query time by aggregating records of one chat.
type ChatSummary struct {
	ChatID        string    `json:"chatId"`
	LastMessage   string    `json:"lastMessage"`
	LastTimestamp time.Time `json:"lastTimestamp"`
	MessageCount  int       `json:"messageCount"`
}
