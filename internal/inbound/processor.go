// Package inbound applies the first-seen-wins rule shared by the poller and
// the webhook ingestors, then filters, normalizes, records and publishes.
package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/internal/metrics"
	"github.com/flemzord/sbridge/internal/telemetry"
	"github.com/flemzord/sbridge/pkg/message"
)

// Outcome describes what Process did with a message.
type Outcome int

// Process outcomes.
const (
	// Delivered means the message was claimed, recorded and published.
	Delivered Outcome = iota
	// Duplicate means another caller had already claimed the message.
	Duplicate
	// Filtered means the sender is not on the allow-list.
	Filtered
	// Empty means the message had neither text nor media.
	Empty
	// Outbound means the message was sent by the account and is ignored.
	Outbound
)

var outcomeNames = [...]string{"delivered", "duplicate", "filtered", "empty", "outbound"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Publisher receives events for delivered messages.
type Publisher interface {
	Publish(evt message.Event)
}

// Processor is safe for concurrent use by every producer.
type Processor struct {
	ledger    ledger.Ledger
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	allow     atomic.Pointer[AllowList]

	// deliverMu keeps history order equal to publish order across producers.
	deliverMu sync.Mutex
}

// NewProcessor creates a Processor.
func NewProcessor(l ledger.Ledger, p Publisher, allow *AllowList, m *metrics.Metrics, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	proc := &Processor{
		ledger:    l,
		publisher: p,
		metrics:   m,
		logger:    logger.With("component", "inbound"),
		tracer:    telemetry.Tracer(),
	}
	proc.allow.Store(allow)
	return proc
}

// SetAllowList swaps the sender allow-list.
func (p *Processor) SetAllowList(a *AllowList) {
	p.allow.Store(a)
	p.logger.Info("allow-list updated", "entries", a.Len())
}

// Process runs one observed message through the pipeline. The marker is
// written before any other side effect. A ledger error while claiming is
// returned; a history error after claiming is logged and the event is
// still published.
func (p *Processor) Process(ctx context.Context, msg message.InboundMessage, source message.Source) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "inbound.process", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.source", string(source)),
	))
	defer span.End()

	outcome, err := p.process(ctx, msg, source)
	span.SetAttributes(attribute.String("message.outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (p *Processor) process(ctx context.Context, msg message.InboundMessage, source message.Source) (Outcome, error) {
	if msg.IsOutbound() {
		return Outbound, nil
	}

	claimed, err := p.ledger.MarkProcessed(ctx, msg.ID)
	if err != nil {
		return Duplicate, fmt.Errorf("inbound: mark %s: %w", msg.ID, err)
	}
	if !claimed {
		p.metrics.Duplicate(string(source))
		p.logger.Debug("duplicate message discarded", "message_id", msg.ID, "source", source)
		return Duplicate, nil
	}

	if !p.allow.Load().IsAllowed(msg.From) {
		p.metrics.Filtered("allowlist")
		p.logger.Info("sender not allowed", "message_id", msg.ID, "from", msg.From)
		return Filtered, nil
	}

	content, ok := Normalize(msg)
	if !ok {
		p.metrics.Filtered("empty")
		p.logger.Debug("empty message skipped", "message_id", msg.ID)
		return Empty, nil
	}

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	if err := p.ledger.AppendHistory(ctx, ledger.Record{
		ChatID:    msg.ChatID(),
		Sender:    msg.From,
		Content:   content,
		Direction: message.DirectionInbound,
		Timestamp: msg.SentAt,
	}); err != nil {
		// The marker is already written; publishing anyway is the only way
		// the message still reaches subscribers.
		p.logger.Warn("append history failed", "message_id", msg.ID, "error", err)
	}

	p.publisher.Publish(message.NewMessageEvent(msg, content))
	p.metrics.Delivered(string(source))
	p.logger.Info("message delivered", "message_id", msg.ID, "from", msg.From, "source", source)
	return Delivered, nil
}
