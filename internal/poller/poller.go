// Package poller periodically fetches messages from the provider and feeds
// them through the inbound pipeline. It also performs outbound sends.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/sbridge/internal/inbound"
	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/internal/metrics"
	"github.com/flemzord/sbridge/internal/telemetry"
	"github.com/flemzord/sbridge/pkg/message"
)

// ErrClosed is returned by Start once the poller has been closed for
// shutdown.
var ErrClosed = errors.New("poller: closed")

// Fetcher lists provider messages sent at or after since.
type Fetcher interface {
	FetchInbound(ctx context.Context, since time.Time) ([]message.InboundMessage, error)
}

// Sender performs outbound sends.
type Sender interface {
	SendOutbound(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error)
	FromNumber() string
}

// Processor applies the first-seen-wins pipeline to one message.
type Processor interface {
	Process(ctx context.Context, msg message.InboundMessage, source message.Source) (inbound.Outcome, error)
}

// Poller owns the PollCursor. Start and Stop are idempotent and safe for
// concurrent use.
type Poller struct {
	cfg       Config
	fetcher   Fetcher
	sender    Sender
	processor Processor
	history   ledger.Ledger
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu      sync.Mutex
	running bool
	closed  bool
	stopCh  chan struct{}
	done    chan struct{}

	cursorMu sync.RWMutex
	cursor   time.Time
}

// Deps groups the poller's collaborators.
type Deps struct {
	Fetcher   Fetcher
	Sender    Sender
	Processor Processor
	Ledger    ledger.Ledger
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// New creates a stopped poller.
func New(cfg Config, deps Deps) *Poller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:       cfg.WithDefaults(),
		fetcher:   deps.Fetcher,
		sender:    deps.Sender,
		processor: deps.Processor,
		history:   deps.Ledger,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "poller"),
		tracer:    telemetry.Tracer(),
		now:       time.Now,
	}
}

// Start runs one cycle immediately and then one per interval. Calling
// Start on a running poller logs and returns nil.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.running {
		p.logger.Info("poller already running")
		return nil
	}

	p.cursorMu.Lock()
	if p.cursor.IsZero() {
		p.cursor = p.now().Add(-p.cfg.Lookback)
	}
	cursor := p.cursor
	p.cursorMu.Unlock()

	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(p.stopCh, p.done)

	p.logger.Info("poller started", "interval", p.cfg.Interval, "cursor", cursor)
	return nil
}

// Stop cancels the timer and waits for an in-flight cycle to finish.
// Calling Stop on a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	<-done
	p.logger.Info("poller stopped", "cursor", p.Cursor())
}

// Close stops the poller for good. Later Start calls return ErrClosed.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Stop()
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Cursor returns the lower bound of the next fetch. It is zero until the
// first Start.
func (p *Poller) Cursor() time.Time {
	p.cursorMu.RLock()
	defer p.cursorMu.RUnlock()
	return p.cursor
}

func (p *Poller) advance(t time.Time) {
	p.cursorMu.Lock()
	defer p.cursorMu.Unlock()
	if t.After(p.cursor) {
		p.cursor = t
	}
}

func (p *Poller) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	p.cycle()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.cycle()
		}
	}
}

// cycle fetches from the cursor and processes every message in provider
// order. The cursor advances to the cycle start time whatever the outcome.
func (p *Poller) cycle() {
	start := p.now()
	since := p.Cursor()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CycleTimeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "poller.cycle", trace.WithAttributes(
		attribute.String("poller.since", since.Format(time.RFC3339Nano)),
	))
	defer span.End()

	failed := false
	defer func() {
		p.advance(start)
		p.metrics.PollCycle(p.now().Sub(start), failed)
	}()

	msgs, err := p.fetcher.FetchInbound(ctx, since)
	if err != nil {
		failed = true
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("poll fetch failed", "since", since, "error", err)
		return
	}
	span.SetAttributes(attribute.Int("poller.fetched", len(msgs)))

	delivered := 0
	for _, msg := range msgs {
		outcome, err := p.processor.Process(ctx, msg, message.SourcePoll)
		if err != nil {
			p.logger.Error("poll message processing failed", "message_id", msg.ID, "error", err)
			continue
		}
		if outcome == inbound.Delivered {
			delivered++
		}
	}

	if len(msgs) > 0 {
		p.logger.Debug("poll cycle complete", "fetched", len(msgs), "delivered", delivered)
	}
}

// SendMessage sends through the provider, then appends an outbound
// history record. Provider errors are returned unchanged.
func (p *Poller) SendMessage(ctx context.Context, to, content, mediaURL string) (message.SendResult, error) {
	ctx, span := p.tracer.Start(ctx, "poller.send")
	defer span.End()

	res, err := p.sender.SendOutbound(ctx, message.OutboundMessage{To: to, Content: content, MediaURL: mediaURL})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return message.SendResult{}, err
	}

	recorded := content
	if mediaURL != "" {
		if recorded != "" {
			recorded += "\n"
		}
		recorded += inbound.MediaNotice(mediaURL)
	}

	if err := p.history.AppendHistory(ctx, ledger.Record{
		ChatID:    to,
		Sender:    p.sender.FromNumber(),
		Content:   recorded,
		Direction: message.DirectionOutbound,
		Timestamp: p.now(),
	}); err != nil {
		// The provider accepted the send; the caller still gets its id.
		p.logger.Warn("append outbound history failed", "to", to, "message_id", res.MessageID, "error", err)
	}

	p.logger.Info("message sent", "to", to, "message_id", res.MessageID)
	return res, nil
}

// String implements fmt.Stringer for status logs.
func (p *Poller) String() string {
	return fmt.Sprintf("poller(running=%t cursor=%s)", p.Running(), p.Cursor().Format(time.RFC3339))
}
