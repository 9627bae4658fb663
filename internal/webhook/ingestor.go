// Package webhook receives provider push notifications over HTTP and feeds
// them through the inbound pipeline.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/sbridge/internal/inbound"
	"github.com/flemzord/sbridge/internal/metrics"
	"github.com/flemzord/sbridge/internal/security"
	"github.com/flemzord/sbridge/internal/telemetry"
	"github.com/flemzord/sbridge/modules/provider/sendblue"
	"github.com/flemzord/sbridge/pkg/message"
)

// Headers accepted as carriers of the shared secret, besides a bearer
// Authorization header.
var secretHeaders = []string{"X-Secret", "X-Webhook-Secret", "X-API-Key"}

// Processor applies the first-seen-wins pipeline to one message.
type Processor interface {
	Process(ctx context.Context, msg message.InboundMessage, source message.Source) (inbound.Outcome, error)
}

// Deps groups the ingestor's collaborators.
type Deps struct {
	Processor Processor
	Limiter   *security.RateLimiter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Ingestor is one webhook listener. It keeps no per-request state; the
// only shared state it touches is the ledger behind Processor.
type Ingestor struct {
	id        string
	cfg       Config
	processor Processor
	limiter   *security.RateLimiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	schema    *jsonschema.Schema
	now       func() time.Time

	wg sync.WaitGroup
}

// New creates an ingestor for the instance id.
func New(id string, cfg Config, deps Deps) (*Ingestor, error) {
	if id == "" {
		return nil, errors.New("webhook: instance id is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("webhook: processor is required")
	}
	cfg = cfg.WithDefaults(id)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sch, err := compilePayloadSchema()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		id:        id,
		cfg:       cfg,
		processor: deps.Processor,
		limiter:   deps.Limiter,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "webhook", "instance", id),
		tracer:    telemetry.Tracer(),
		schema:    sch,
		now:       time.Now,
	}, nil
}

// ID returns the instance identifier.
func (in *Ingestor) ID() string { return in.id }

// Path returns the path the ingestor answers on.
func (in *Ingestor) Path() string { return in.cfg.Path }

// ServeHTTP implements http.Handler.
func (in *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != in.cfg.Path {
		in.reject(w, http.StatusNotFound, "not_found")
		return
	}

	if r.ContentLength > in.cfg.MaxBodyBytes {
		in.reject(w, http.StatusRequestEntityTooLarge, "too_large")
		return
	}

	if in.limiter != nil {
		if d := in.limiter.Allow(clientIdentity(r)); !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			in.reject(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
	}

	if in.cfg.Secret != "" && !checkSecret(r.Header, in.cfg.Secret) {
		in.reject(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, in.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			in.reject(w, http.StatusRequestEntityTooLarge, "too_large")
			return
		}
		in.reject(w, http.StatusBadRequest, "bad_request")
		return
	}

	if err := validatePayload(in.schema, body); err != nil {
		in.logger.Debug("webhook payload rejected", "error", err)
		in.reject(w, http.StatusBadRequest, "bad_request")
		return
	}

	var payload sendblue.Message
	if err := json.Unmarshal(body, &payload); err != nil {
		in.reject(w, http.StatusBadRequest, "bad_request")
		return
	}
	msg := payload.ToInbound(in.now())

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})

	ctx := context.WithoutCancel(r.Context())
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.process(ctx, msg)
	}()
}

func (in *Ingestor) process(ctx context.Context, msg message.InboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, in.cfg.ProcessTimeout)
	defer cancel()

	ctx, span := in.tracer.Start(ctx, "webhook.process", trace.WithAttributes(
		attribute.String("webhook.instance", in.id),
	))
	defer span.End()

	outcome, err := in.processor.Process(ctx, msg, message.SourceWebhook)
	if err != nil {
		in.logger.Error("webhook message processing failed", "message_id", msg.ID, "error", err)
		return
	}
	in.logger.Debug("webhook message processed", "message_id", msg.ID, "outcome", outcome)
}

// Wait blocks until every accepted payload has been processed or ctx ends.
func (in *Ingestor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook %s: wait for in-flight payloads: %w", in.id, ctx.Err())
	}
}

func (in *Ingestor) reject(w http.ResponseWriter, status int, reason string) {
	in.metrics.WebhookRejected(reason)
	writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
}

// checkSecret accepts the secret from any supported header, comparing in
// constant time.
func checkSecret(h http.Header, secret string) bool {
	want := []byte(secret)
	for _, name := range secretHeaders {
		if v := h.Get(name); v != "" && subtle.ConstantTimeCompare([]byte(v), want) == 1 {
			return true
		}
	}
	auth := h.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), want) == 1
	}
	return false
}

// clientIdentity returns the caller's network address without the port.
func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
