// Package amqp mirrors delivered events to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// publisher is the subset of *amqp091.Channel used by the sink.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Sink queues events in memory and publishes them from a single goroutine,
// so the broadcaster is never blocked on the broker. A second goroutine
// watches the connection and swaps in a new session after a broker restart.
type Sink struct {
	cfg     Config
	connect connectFunc
	logger  *slog.Logger

	mu   sync.RWMutex
	sess session

	ctx       context.Context
	cancel    context.CancelFunc
	queue     chan []byte
	stopCh    chan struct{}
	done      chan struct{}
	watchDone chan struct{}
	stopOnce  sync.Once
	start     sync.Once
}

// Dial connects to the broker, declares the exchange and returns a sink
// ready to Start.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sink.amqp")

	connect := func(ctx context.Context) (session, error) {
		return openSession(ctx, cfg, logger)
	}
	sess, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	return newSink(cfg, sess, connect, logger), nil
}

func newSink(cfg Config, sess session, connect connectFunc, logger *slog.Logger) *Sink {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Sink{
		cfg:       cfg,
		connect:   connect,
		logger:    logger,
		sess:      sess,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan []byte, cfg.Buffer),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		watchDone: make(chan struct{}),
	}
}

// Name implements broadcast.Sink.
func (s *Sink) Name() string { return "amqp" }

// Offer enqueues one encoded event without blocking. It reports false when
// the queue is full or the sink is stopped.
func (s *Sink) Offer(data []byte) bool {
	select {
	case <-s.stopCh:
		return false
	default:
	}
	select {
	case s.queue <- data:
		return true
	default:
		return false
	}
}

// Start implements core.Starter.
func (s *Sink) Start() error {
	s.start.Do(func() {
		go s.loop()
		go s.supervise()
	})
	return nil
}

// Stop implements core.Stopper. Queued events are flushed until ctx ends.
func (s *Sink) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.Start() // a never-started sink still needs its loop to close done

	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		err = fmt.Errorf("amqp: flush: %w", ctx.Err())
	}
	s.cancel()
	<-s.watchDone

	if sess := s.current(); sess.close != nil {
		err = errors.Join(err, sess.close())
	}
	return err
}

func (s *Sink) current() session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// supervise waits for the session to close and reconnects until the sink
// stops.
func (s *Sink) supervise() {
	defer close(s.watchDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case cause := <-s.current().closed:
			if s.connect == nil {
				s.logger.Error("broker connection lost", "error", cause)
				return
			}
			s.logger.Warn("broker connection lost, reconnecting", "error", cause)
			if !s.reconnect() {
				return
			}
		}
	}
}

// reconnect retries connect with capped jittered backoff. It reports false
// when the sink stopped first.
func (s *Sink) reconnect() bool {
	delay := s.cfg.DialDelay
	for {
		sess, err := s.connect(s.ctx)
		if err == nil {
			s.mu.Lock()
			old := s.sess
			s.sess = sess
			s.mu.Unlock()
			if old.close != nil {
				_ = old.close()
			}
			s.logger.Info("broker reconnected", "exchange", s.cfg.Exchange)
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}

		wait := jittered(delay)
		s.logger.Error("broker reconnect failed", "retry_in", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		delay = min(delay*2, maxDialDelay)
	}
}

func (s *Sink) loop() {
	defer close(s.done)
	for {
		select {
		case data := <-s.queue:
			s.publish(data)
		case <-s.stopCh:
			for {
				select {
				case data := <-s.queue:
					s.publish(data)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) publish(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
	defer cancel()

	err := s.current().pub.PublishWithContext(ctx, s.cfg.Exchange, s.cfg.RoutingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         data,
	})
	if err != nil {
		s.logger.Warn("publish failed, event dropped", "exchange", s.cfg.Exchange, "error", err)
	}
}
