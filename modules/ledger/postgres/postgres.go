// Package postgres implements the Dedup Ledger on PostgreSQL for deployments
// that run several bridge processes against one shared store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/pkg/message"
)

const operationTimeout = 5 * time.Second

// Compile-time interface guard.
var _ ledger.Ledger = (*Ledger)(nil)

// Ledger is a ledger.Ledger backed by PostgreSQL.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	prefix  string
	markers string // quoted table names
	history string
	now     func() time.Time
}

// Open connects to dsn and creates the ledger tables if needed.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Ledger, error) {
	return open(ctx, dsn, "sbridge_", logger)
}

func open(ctx context.Context, dsn, prefix string, logger *slog.Logger) (*Ledger, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	l := &Ledger{
		db:      db,
		logger:  logger,
		prefix:  prefix,
		markers: pq.QuoteIdentifier(prefix + "processed_messages"),
		history: pq.QuoteIdentifier(prefix + "history"),
		now:     time.Now,
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("postgres ledger opened")
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			message_id   TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL
		)`, l.markers),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (processed_at)`,
			pq.QuoteIdentifier(l.prefix+"processed_at_idx"), l.markers),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        BIGSERIAL PRIMARY KEY,
			chat_id   TEXT   NOT NULL,
			sender    TEXT   NOT NULL DEFAULT '',
			content   TEXT   NOT NULL DEFAULT '',
			direction TEXT   NOT NULL,
			ts        BIGINT NOT NULL
		)`, l.history),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (chat_id, ts, id)`,
			pq.QuoteIdentifier(l.prefix+"history_chat_idx"), l.history),
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// IsProcessed implements ledger.Ledger.
func (l *Ledger) IsProcessed(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE message_id = $1)", l.markers)
	if err := l.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: is processed: %w", err)
	}
	return exists, nil
}

// MarkProcessed implements ledger.Ledger.
func (l *Ledger) MarkProcessed(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ledger.ErrEmptyID
	}
	// processed_at comes from the process clock, the same clock the purge
	// horizon is computed from.
	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING`, l.markers)
	res, err := l.db.ExecContext(ctx, query, id, l.now())
	if err != nil {
		return false, fmt.Errorf("postgres: mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: mark processed rows: %w", err)
	}
	return n == 1, nil
}

// PurgeMarkersOlderThan implements ledger.Ledger.
func (l *Ledger) PurgeMarkersOlderThan(ctx context.Context, horizon time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE processed_at < $1", l.markers)
	res, err := l.db.ExecContext(ctx, query, horizon)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge markers: %w", err)
	}
	return res.RowsAffected()
}

// AppendHistory implements ledger.Ledger.
func (l *Ledger) AppendHistory(ctx context.Context, rec ledger.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (chat_id, sender, content, direction, ts)
		VALUES ($1, $2, $3, $4, $5)`, l.history)
	_, err := l.db.ExecContext(ctx, query,
		rec.ChatID, rec.Sender, rec.Content, string(rec.Direction), rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append history: %w", err)
	}
	return nil
}

// History implements ledger.Ledger.
func (l *Ledger) History(ctx context.Context, chatID string, limit int) ([]ledger.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT chat_id, sender, content, direction, ts
		FROM %s
		WHERE chat_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2`, l.history)
	rows, err := l.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: history: %w", err)
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
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		rec.Direction = message.Direction(direction)
		rec.Timestamp = time.Unix(0, ts).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: history rows: %w", err)
	}
	slices.Reverse(recs)
	return recs, nil
}

// AllChats implements ledger.Ledger.
func (l *Ledger) AllChats(ctx context.Context) ([]ledger.ChatSummary, error) {
	query := fmt.Sprintf(`
		SELECT chat_id, content, ts, n FROM (
			SELECT chat_id, content, ts,
				ROW_NUMBER() OVER (PARTITION BY chat_id ORDER BY ts DESC, id DESC) AS rn,
				COUNT(*) OVER (PARTITION BY chat_id) AS n
			FROM %s
		) AS latest
		WHERE rn = 1
		ORDER BY ts DESC, chat_id ASC`, l.history)
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: all chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chats := []ledger.ChatSummary{}
	for rows.Next() {
		var (
			s  ledger.ChatSummary
			ts int64
		)
		if err := rows.Scan(&s.ChatID, &s.LastMessage, &ts, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("postgres: scan chat: %w", err)
		}
		s.LastTimestamp = time.Unix(0, ts).UTC()
		chats = append(chats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: all chats rows: %w", err)
	}
	return chats, nil
}

// ClearHistory implements ledger.Ledger.
func (l *Ledger) ClearHistory(ctx context.Context, chatID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE chat_id = $1", l.history)
	if _, err := l.db.ExecContext(ctx, query, chatID); err != nil {
		return fmt.Errorf("postgres: clear history: %w", err)
	}
	return nil
}

// Close implements ledger.Ledger.
func (l *Ledger) Close() error {
	l.logger.Info("postgres ledger closing")
	return l.db.Close()
}
