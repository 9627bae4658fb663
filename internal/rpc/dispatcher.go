package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/internal/metrics"
	"github.com/flemzord/sbridge/internal/telemetry"
	"github.com/flemzord/sbridge/pkg/message"
)

// Poller is the subset of the poller the command surface drives.
type Poller interface {
	Start() error
	Stop()
	Running() bool
	Cursor() time.Time
	SendMessage(ctx context.Context, to, content, mediaURL string) (message.SendResult, error)
}

// History is the read/clear side of the ledger.
type History interface {
	History(ctx context.Context, chatID string, limit int) ([]ledger.Record, error)
	AllChats(ctx context.Context) ([]ledger.ChatSummary, error)
	ClearHistory(ctx context.Context, chatID string) error
}

// Subscribers reports the live subscriber count.
type Subscribers interface {
	Len() int
}

// Deps groups the dispatcher's collaborators.
type Deps struct {
	Poller      Poller
	History     History
	Subscribers Subscribers
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Version     string
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher routes requests to method handlers. It holds no per-request
// state and is safe for concurrent use.
type Dispatcher struct {
	poller      Poller
	history     History
	subscribers Subscribers
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	version     string
	methods     map[string]handlerFunc
}

// NewDispatcher creates a dispatcher with the full method set registered.
func NewDispatcher(deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		poller:      deps.Poller,
		history:     deps.History,
		subscribers: deps.Subscribers,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "rpc"),
		tracer:      telemetry.Tracer(),
		version:     deps.Version,
	}
	d.methods = map[string]handlerFunc{
		MethodWatchSubscribe:   d.watchSubscribe,
		MethodWatchUnsubscribe: d.watchUnsubscribe,
		MethodSend:             d.send,
		MethodChatsList:        d.chatsList,
		MethodChatsHistory:     d.chatsHistory,
		MethodChatsClear:       d.chatsClear,
		MethodStatus:           d.status,
	}
	return d
}

// Handle decodes one raw request and returns the encoded response. It
// never returns nil.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	resp := d.handleRaw(ctx, raw)
	data, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("encode response failed", "error", err)
		data, _ = json.Marshal(newResponse(resp.ID, nil, &Error{Code: CodeInternalError, Message: "encode response"}))
	}
	return data
}

func (d *Dispatcher) handleRaw(ctx context.Context, raw []byte) Response {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		if !json.Valid(raw) {
			d.metrics.RPCCall("", "parse_error")
			return newResponse(nil, nil, &Error{Code: CodeParseError, Message: "parse error"})
		}
		d.metrics.RPCCall("", "invalid_request")
		return newResponse(nil, nil, &Error{Code: CodeInvalidRequest, Message: "request must be an object"})
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || !json.Valid(raw) {
			d.metrics.RPCCall("", "parse_error")
			return newResponse(nil, nil, &Error{Code: CodeParseError, Message: "parse error"})
		}
		d.metrics.RPCCall("", "invalid_request")
		return newResponse(nil, nil, &Error{Code: CodeInvalidRequest, Message: err.Error()})
	}
	if req.Method == "" {
		d.metrics.RPCCall("", "invalid_request")
		return newResponse(req.ID, nil, &Error{Code: CodeInvalidRequest, Message: "method is required"})
	}

	result, rpcErr := d.Dispatch(ctx, req.Method, req.Params)
	return newResponse(req.ID, result, rpcErr)
}

// Dispatch runs one method. Handler panics and unexpected errors become
// internal errors.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params json.RawMessage) (result any, rpcErr *Error) {
	h, ok := d.methods[method]
	if !ok {
		d.metrics.RPCCall("unknown", "method_not_found")
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}

	ctx, span := d.tracer.Start(ctx, "rpc."+method, trace.WithAttributes(attribute.String("rpc.method", method)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("rpc handler panicked", "method", method, "panic", r, "stack", string(debug.Stack()))
			result, rpcErr = nil, &Error{Code: CodeInternalError, Message: "internal error"}
		}
		outcome := "ok"
		if rpcErr != nil {
			outcome = outcomeFor(rpcErr.Code)
			span.SetStatus(codes.Error, rpcErr.Message)
		}
		d.metrics.RPCCall(method, outcome)
	}()

	res, err := h(ctx, params)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		span.RecordError(err)
		d.logger.Error("rpc handler failed", "method", method, "error", err)
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return res, nil
}

func outcomeFor(code int) string {
	switch code {
	case CodeInvalidParams:
		return "invalid_params"
	case CodeMethodNotFound:
		return "method_not_found"
	default:
		return "internal_error"
	}
}

// decodeParams unmarshals params into dst. Absent or null params leave dst
// untouched.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 || bytes.Equal(bytes.TrimSpace(params), nullID) {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return invalidParams("invalid params: %v", err)
	}
	return nil
}
