package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/sbridge/internal/metrics"
	"github.com/flemzord/sbridge/pkg/message"
)

// Conn is one subscriber transport. Writes are only ever issued from the
// subscription's writer goroutine, one at a time.
type Conn interface {
	WriteEvent(ctx context.Context, data []byte) error
	WriteHeartbeat(ctx context.Context) error
	Close(reason string) error
}

// Sink receives a copy of every published event. Offer must not block;
// it reports false when the event was dropped.
type Sink interface {
	Name() string
	Offer(data []byte) bool
}

// Subscription is a live subscriber connection.
type Subscription struct {
	ID          string
	ConnectedAt time.Time

	conn      Conn
	out       chan frame
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed once the subscription's writer has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

type frame struct {
	data      []byte
	heartbeat bool
}

// Broadcaster maintains the set of live subscriptions.
type Broadcaster struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   map[string]*Subscription
	sinks  []Sink
	closed bool

	cancel    context.CancelFunc
	heartbeat sync.WaitGroup
	writers   sync.WaitGroup
}

// New creates a broadcaster. Call Start to run the heartbeat.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		cfg:     cfg.WithDefaults(),
		logger:  logger.With("component", "broadcast"),
		metrics: m,
		subs:    make(map[string]*Subscription),
	}
}

// AddSink registers an external sink. Sinks are fed after subscribers.
func (b *Broadcaster) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Start launches the heartbeat loop.
func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrShutdown
	}
	if b.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.heartbeat.Add(1)
	go func() {
		defer b.heartbeat.Done()
		b.heartbeatLoop(ctx)
	}()

	b.logger.Info("broadcaster started", "heartbeat", b.cfg.Heartbeat, "buffer", b.cfg.Buffer)
	return nil
}

// Stop shuts the broadcaster down and waits for every writer to exit or
// for ctx to expire.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.Shutdown()

	done := make(chan struct{})
	go func() {
		b.writers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers conn and queues the connection acknowledgment as its
// first frame.
func (b *Broadcaster) Subscribe(conn Conn) (*Subscription, error) {
	sub := &Subscription{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		out:         make(chan frame, b.cfg.Buffer),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	ack, err := json.Marshal(message.Connected{Connected: true, ID: sub.ID})
	if err != nil {
		return nil, err
	}
	sub.out <- frame{data: ack}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrShutdown
	}
	if b.cfg.MaxSubscribers > 0 && len(b.subs) >= b.cfg.MaxSubscribers {
		b.mu.Unlock()
		return nil, ErrMaxSubscribers
	}
	b.subs[sub.ID] = sub
	n := len(b.subs)
	b.writers.Add(1)
	b.mu.Unlock()

	go b.writeLoop(sub)

	b.metrics.SetSubscribers(n)
	b.logger.Info("subscriber connected", "id", sub.ID, "subscribers", n)
	return sub, nil
}

// Unsubscribe deregisters sub and closes its connection. Idempotent.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.remove(sub, "unsubscribed")
}

// Publish serializes evt once and queues it on every live subscription.
// Subscribers whose queue is full are pruned. After Shutdown it is a no-op.
func (b *Broadcaster) Publish(evt message.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("marshal event failed", "method", evt.Method, "error", err)
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var stale []*Subscription
	for _, sub := range b.subs {
		if !sub.enqueue(frame{data: data}) {
			stale = append(stale, sub)
		}
	}
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sub := range stale {
		b.remove(sub, "subscriber too slow")
	}

	for _, s := range sinks {
		if !s.Offer(data) {
			b.metrics.SinkDropped(s.Name())
			b.logger.Warn("sink dropped event", "sink", s.Name(), "method", evt.Method)
		}
	}
}

// Send queues a frame for one subscription only, e.g. a command reply.
// It reports false when the subscription is gone or its queue is full.
func (b *Broadcaster) Send(sub *Subscription, data []byte) bool {
	b.mu.RLock()
	_, live := b.subs[sub.ID]
	b.mu.RUnlock()
	if !live {
		return false
	}
	if !sub.enqueue(frame{data: data}) {
		b.remove(sub, "subscriber too slow")
		return false
	}
	return true
}

// Shutdown stops the heartbeat and closes every connection. Publish is a
// no-op afterwards. Idempotent.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cancel := b.cancel
	subs := make([]*Subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.heartbeat.Wait()

	// Transport closes may wait on the peer; run them side by side.
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.close("server shutting down")
		}()
	}
	wg.Wait()
	b.metrics.SetSubscribers(0)
	b.logger.Info("broadcaster shut down", "closed", len(subs))
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) remove(sub *Subscription, reason string) {
	b.mu.Lock()
	_, ok := b.subs[sub.ID]
	if ok {
		delete(b.subs, sub.ID)
	}
	n := len(b.subs)
	b.mu.Unlock()

	sub.close(reason)
	if ok {
		b.metrics.SetSubscribers(n)
		b.logger.Info("subscriber removed", "id", sub.ID, "reason", reason, "subscribers", n)
	}
}

func (b *Broadcaster) writeLoop(sub *Subscription) {
	defer b.writers.Done()
	defer close(sub.done)

	for {
		select {
		case <-sub.quit:
			return
		case f := <-sub.out:
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.WriteTimeout)
			var err error
			if f.heartbeat {
				err = sub.conn.WriteHeartbeat(ctx)
			} else {
				err = sub.conn.WriteEvent(ctx, f.data)
			}
			cancel()
			if err != nil {
				b.logger.Debug("subscriber write failed", "id", sub.ID, "error", err)
				b.remove(sub, "write failed")
				return
			}
		}
	}
}

func (b *Broadcaster) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.beat()
		}
	}
}

func (b *Broadcaster) beat() {
	b.mu.RLock()
	var stale []*Subscription
	for _, sub := range b.subs {
		if !sub.enqueue(frame{heartbeat: true}) {
			stale = append(stale, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range stale {
		b.remove(sub, "heartbeat not writable")
	}
}

// enqueue is a single non-blocking write attempt.
func (s *Subscription) enqueue(f frame) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.out <- f:
		return true
	default:
		return false
	}
}

func (s *Subscription) close(reason string) {
	s.closeOnce.Do(func() {
		close(s.quit)
		_ = s.conn.Close(reason)
	})
}
