package sqlite

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/pkg/message"
)

// AppendHistory implements ledger.Ledger.
func (l *Ledger) AppendHistory(ctx context.Context, rec ledger.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO history (chat_id, sender, content, direction, ts)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ChatID, rec.Sender, rec.Content, string(rec.Direction), rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append history: %w", err)
	}
	return nil
}

// History implements ledger.Ledger.
func (l *Ledger) History(ctx context.Context, chatID string, limit int) ([]ledger.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT chat_id, sender, content, direction, ts
		FROM history
		WHERE chat_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []ledger.Record
	for rows.Next() {
		var (
			rec       ledger.Record
			direction string
			ts        int64
		)
		if err := rows.Scan(&rec.ChatID, &rec.Sender, &rec.Content, &direction, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		rec.Direction = message.Direction(direction)
		rec.Timestamp = time.Unix(0, ts).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", err)
	}

	// Reverse to chronological order.
	slices.Reverse(recs)
	return recs, nil
}

// AllChats implements ledger.Ledger.
func (l *Ledger) AllChats(ctx context.Context) ([]ledger.ChatSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT chat_id, content, ts, n FROM (
			SELECT chat_id, content, ts,
				ROW_NUMBER() OVER (PARTITION BY chat_id ORDER BY ts DESC, id DESC) AS rn,
				COUNT(*) OVER (PARTITION BY chat_id) AS n
			FROM history
		) AS latest
		WHERE rn = 1
		ORDER BY ts DESC, chat_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: all chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chats := []ledger.ChatSummary{}
	for rows.Next() {
		var (
			s  ledger.ChatSummary
			ts int64
		)
		if err := rows.Scan(&s.ChatID, &s.LastMessage, &ts, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("sqlite: scan chat: %w", err)
		}
		s.LastTimestamp = time.Unix(0, ts).UTC()
		chats = append(chats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: all chats rows: %w", err)
	}
	return chats, nil
}

// ClearHistory implements ledger.Ledger.
func (l *Ledger) ClearHistory(ctx context.Context, chatID string) error {
	if _, err := l.db.ExecContext(ctx, "DELETE FROM history WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("sqlite: clear history: %w", err)
	}
	return nil
}
