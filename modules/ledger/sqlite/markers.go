package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/flemzord/sbridge/internal/ledger"
)

// IsProcessed implements ledger.Ledger.
func (l *Ledger) IsProcessed(ctx context.Context, id string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_messages WHERE message_id = ?", id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: is processed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed implements ledger.Ledger. The insert and the existence check
// are one statement, so concurrent callers cannot both claim an id.
func (l *Ledger) MarkProcessed(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ledger.ErrEmptyID
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id, processed_at)
		VALUES (?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		id, time.Now().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: mark processed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: mark processed rows: %w", err)
	}
	return n == 1, nil
}

// PurgeMarkersOlderThan implements ledger.Ledger.
func (l *Ledger) PurgeMarkersOlderThan(ctx context.Context, horizon time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		"DELETE FROM processed_messages WHERE processed_at < ?", horizon.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge markers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge markers rows: %w", err)
	}
	return n, nil
}
