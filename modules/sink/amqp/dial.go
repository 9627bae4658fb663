package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	maxDialDelay = 60 * time.Second
	jitterPct    = 25
)

// session is one live broker connection with its publishing channel.
type session struct {
	pub publisher
	// closed receives once when the connection or channel goes away.
	// A nil channel never fires.
	closed <-chan *amqp091.Error
	close  func() error
}

// connectFunc opens a fresh session.
type connectFunc func(ctx context.Context) (session, error)

// dialWithRetry connects with exponential backoff capped at maxDialDelay.
// It respects context cancellation for graceful shutdown.
func dialWithRetry(ctx context.Context, cfg Config, logger *slog.Logger) (*amqp091.Connection, error) {
	var lastErr error
	delay := cfg.DialDelay

	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if attempt > 1 {
				logger.Info("broker connected", "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err
		if attempt == cfg.DialAttempts {
			break
		}

		logger.Warn("broker dial failed", "attempt", attempt, "sleep", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("amqp: dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, maxDialDelay)
	}

	return nil, fmt.Errorf("amqp: connect after %d attempts: %w", cfg.DialAttempts, lastErr)
}

// openSession dials, opens a channel and declares the exchange.
func openSession(ctx context.Context, cfg Config, logger *slog.Logger) (session, error) {
	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		return session{}, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return session{}, fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return session{}, fmt.Errorf("amqp: declare exchange %s: %w", cfg.Exchange, err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp091.Error, 1))
	closed := make(chan *amqp091.Error, 1)
	go func() {
		var cause *amqp091.Error
		select {
		case cause = <-connClosed:
		case cause = <-chClosed:
		}
		closed <- cause
	}()

	return session{
		pub:    ch,
		closed: closed,
		close: func() error {
			err := ch.Close()
			if errors.Is(err, amqp091.ErrClosed) {
				err = nil
			}
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, amqp091.ErrClosed) {
				err = errors.Join(err, cerr)
			}
			return err
		},
	}, nil
}

// jittered spreads base by up to jitterPct percent either way, capped at maxDialDelay.
func jittered(base time.Duration) time.Duration {
	delta := (rand.Float64()*2 - 1) * jitterPct / 100
	wait := time.Duration(float64(base) * (1 + delta))
	if wait <= 0 {
		wait = base
	}
	return min(wait, maxDialDelay)
}
