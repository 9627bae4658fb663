package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/sbridge/internal/broadcast"
	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/core"
	"github.com/flemzord/sbridge/internal/cron"
	"github.com/flemzord/sbridge/internal/gateway"
	"github.com/flemzord/sbridge/internal/inbound"
	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/internal/metrics"
	"github.com/flemzord/sbridge/internal/poller"
	"github.com/flemzord/sbridge/internal/rpc"
	"github.com/flemzord/sbridge/internal/security"
	"github.com/flemzord/sbridge/internal/telemetry"
	"github.com/flemzord/sbridge/internal/webhook"
	"github.com/flemzord/sbridge/modules/ledger/postgres"
	"github.com/flemzord/sbridge/modules/ledger/sqlite"
	"github.com/flemzord/sbridge/modules/provider/sendblue"
	"github.com/flemzord/sbridge/modules/sink/amqp"
)

// Bridge is a fully wired set of components. Nothing runs until App.Start.
type Bridge struct {
	App         *core.App
	Logger      *slog.Logger
	Redactor    *security.Redactor
	Limiter     *security.RateLimiter
	Processor   *inbound.Processor
	Poller      *poller.Poller
	Broadcaster *broadcast.Broadcaster
	Dispatcher  *rpc.Dispatcher
	Gateway     *gateway.Gateway
	Ledger      ledger.Ledger
	Metrics     *metrics.Metrics
}

// WireParams carries the values that do not come from the config file.
type WireParams struct {
	Version string

	// Output receives log records. Defaults to os.Stderr.
	Output io.Writer

	// Fetcher and Sender replace the Sendblue client when set.
	Fetcher poller.Fetcher
	Sender  poller.Sender
}

// pollerModule adapts the poller to the App lifecycle. The poller only
// starts with the process when autostart is set; otherwise it waits for
// watch.subscribe.
type pollerModule struct {
	poller    *poller.Poller
	autostart bool
}

func (m *pollerModule) Start() error {
	if !m.autostart {
		return nil
	}
	return m.poller.Start()
}

// Stop closes the poller so a watch.subscribe arriving while the gateway
// drains cannot restart it against a closing ledger.
func (m *pollerModule) Stop(_ context.Context) error {
	m.poller.Close()
	return nil
}

// sweeperModule runs the rate limiter's window eviction for the lifetime
// of the process.
type sweeperModule struct {
	limiter *security.RateLimiter
	cancel  context.CancelFunc
	done    chan struct{}
}

func (m *sweeperModule) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.limiter.RunSweeper(ctx)
	}()
	return nil
}

func (m *sweeperModule) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wire builds every component from a defaulted, validated config. On error
// whatever was already opened is closed again.
func Wire(ctx context.Context, cfg config.Config, params WireParams) (_ *Bridge, err error) {
	out := params.Output
	if out == nil {
		out = os.Stderr
	}

	redactor := security.NewRedactor()
	redactor.SetLiterals(cfg.Secrets()...)
	level, err := security.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := security.NewLogger(out, level, cfg.Logging.Format, redactor)

	var cleanups []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			if cerr := cleanups[i](context.Background()); cerr != nil {
				logger.Warn("cleanup after wiring failure", "error", cerr)
			}
		}
	}()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, params.Version)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, shutdownTracing)

	m := metrics.New()

	led, err := openLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, func(context.Context) error { return led.Close() })
	logger.Info("ledger opened", "driver", cfg.Ledger.Driver)

	bc := broadcast.New(cfg.Broadcast, logger, m)

	var sink *amqp.Sink
	if cfg.AMQP.Enabled() {
		sink, err = amqp.Dial(ctx, cfg.AMQP, logger)
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, sink.Stop)
		bc.AddSink(sink)
	}

	limiter := security.NewRateLimiter(cfg.RateLimit)
	proc := inbound.NewProcessor(led, bc, inbound.NewAllowList(cfg.Poller.AllowNumbers), m, logger)

	fetcher, sender := params.Fetcher, params.Sender
	if fetcher == nil || sender == nil {
		client := sendblue.NewClient(cfg.Provider)
		if fetcher == nil {
			fetcher = client
		}
		if sender == nil {
			sender = client
		}
	}

	pl := poller.New(cfg.Poller, poller.Deps{
		Fetcher:   fetcher,
		Sender:    sender,
		Processor: proc,
		Ledger:    led,
		Metrics:   m,
		Logger:    logger,
	})

	var hooks []gateway.Webhook
	for _, id := range config.WebhookIDs(&cfg) {
		in, err := webhook.New(id, cfg.Webhooks[id], webhook.Deps{
			Processor: proc,
			Limiter:   limiter,
			Metrics:   m,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook %s: %w", id, err)
		}
		hooks = append(hooks, in)
	}

	dispatcher := rpc.NewDispatcher(rpc.Deps{
		Poller:      pl,
		History:     led,
		Subscribers: bc,
		Metrics:     m,
		Logger:      logger,
		Version:     params.Version,
	})

	gw := gateway.New(cfg.Gateway, gateway.Deps{
		Webhooks:  hooks,
		RPC:       dispatcher,
		Events:    bc.SSEHandler(),
		WebSocket: bc.WebSocketHandler(dispatcher, nil),
		Metrics:   m.Handler(),
		Logger:    logger,
	})

	scheduler := cron.NewScheduler(logger)
	if cfg.Ledger.Driver != ledger.DriverMemory {
		if err := scheduler.RegisterJob(&cron.MarkerPurgeJob{
			Ledger:       led,
			Retention:    cfg.Ledger.Retention,
			Metrics:      m,
			Logger:       logger,
			ScheduleExpr: cfg.Ledger.PurgeSchedule,
		}); err != nil {
			return nil, err
		}
	}

	// Modules stop in reverse order: poller, broadcaster, gateway, sink,
	// sweeper, cron, ledger, tracing.
	app := core.NewApp(logger)
	app.SetShutdownTimeout(cfg.Gateway.ShutdownTimeout + shutdownSlack)
	app.AppendModule("telemetry", core.StopFunc(shutdownTracing))
	app.AppendModule("ledger", core.StopFunc(func(context.Context) error { return led.Close() }))
	app.AppendModule("cron", scheduler)
	app.AppendModule("ratelimit.sweeper", &sweeperModule{limiter: limiter})
	if sink != nil {
		app.AppendModule("sink.amqp", sink)
	}
	app.AppendModule("gateway", gw)
	app.AppendModule("broadcast", bc)
	app.AppendModule("poller", &pollerModule{poller: pl, autostart: cfg.Poller.Autostart})

	return &Bridge{
		App:         app,
		Logger:      logger,
		Redactor:    redactor,
		Limiter:     limiter,
		Processor:   proc,
		Poller:      pl,
		Broadcaster: bc,
		Dispatcher:  dispatcher,
		Gateway:     gw,
		Ledger:      led,
		Metrics:     m,
	}, nil
}

func openLedger(ctx context.Context, cfg ledger.Config, logger *slog.Logger) (ledger.Ledger, error) {
	switch cfg.Driver {
	case ledger.DriverMemory:
		return ledger.NewMemoryLedger(), nil
	case ledger.DriverPostgres:
		l, err := postgres.Open(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	case ledger.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
		l, err := sqlite.Open(ctx, cfg.Path, cfg.BusyTimeout, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("ledger: unknown driver %q", cfg.Driver)
	}
}
