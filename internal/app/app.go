// Package app builds the long-lived services for one run from a validated
// config and drives the scheduler to completion.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	googleuuid "github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapequeue/internal/clock/system"
	"github.com/JakeFAU/scrapequeue/internal/config"
	"github.com/JakeFAU/scrapequeue/internal/engine"
	"github.com/JakeFAU/scrapequeue/internal/engine/headless"
	"github.com/JakeFAU/scrapequeue/internal/engine/static"
	"github.com/JakeFAU/scrapequeue/internal/format"
	"github.com/JakeFAU/scrapequeue/internal/hash/sha256"
	"github.com/JakeFAU/scrapequeue/internal/id/uuid"
	"github.com/JakeFAU/scrapequeue/internal/metrics"
	"github.com/JakeFAU/scrapequeue/internal/progress"
	"github.com/JakeFAU/scrapequeue/internal/progress/sinks"
	"github.com/JakeFAU/scrapequeue/internal/publisher/pubsub"
	"github.com/JakeFAU/scrapequeue/internal/queue"
	"github.com/JakeFAU/scrapequeue/internal/result"
	"github.com/JakeFAU/scrapequeue/internal/scheduler"
	"github.com/JakeFAU/scrapequeue/internal/scraperdef"
	"github.com/JakeFAU/scrapequeue/internal/session"
	"github.com/JakeFAU/scrapequeue/internal/storage/gcs"
	"github.com/JakeFAU/scrapequeue/internal/storage/postgres"
	"github.com/JakeFAU/scrapequeue/internal/task"
	"github.com/JakeFAU/scrapequeue/internal/workspace"
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	Logger *zap.Logger
	// Stdout receives result lines when output.stdout is set. Defaults to os.Stdout.
	Stdout io.Writer
	// Engine replaces the colly/chromedp runner.
	Engine   engine.Engine
	Clock    task.Clock
	Registry *prometheus.Registry
}

// App holds every service a run needs.
type App struct {
	cfg       config.Config
	runID     googleuuid.UUID
	logger    *zap.Logger
	items     []task.WorkItem
	registry  *prometheus.Registry
	hub       *progress.Hub
	scheduler *scheduler.Scheduler

	closers   []func(context.Context) error
	closeOnce sync.Once
}

// New validates inputs that can only be checked by reading them (the queue
// and the scraper definitions) and wires the run. Any error is a
// configuration error; nothing has been dispatched yet.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}

	runID, err := uuid.New().NewRawID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID.String()))

	a := &App{cfg: cfg, runID: runID, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.items, err = queue.Load(cfg.QueueSource())
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defs, err := scraperdef.Resolve(cfg.ScraperSource(), logger)
	if err != nil {
		return nil, fmt.Errorf("load scraper definitions: %w", err)
	}

	var converter format.Converter
	if cfg.Output.Format != "" {
		if converter, err = format.Lookup(cfg.Output.Format); err != nil {
			return nil, err
		}
	}

	workspaces, err := workspace.NewManager(workspace.Config{Root: cfg.Output.Root, Numeric: cfg.Output.Numeric})
	if err != nil {
		return nil, err
	}

	eng := opts.Engine
	if eng == nil {
		if eng, err = a.buildEngine(); err != nil {
			return nil, err
		}
	}

	writerOpts := result.Options{Hasher: sha256.New(), Logger: logger}
	if cfg.Mirror.GCSBucket != "" {
		mirror, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Mirror.GCSBucket, Prefix: cfg.Mirror.Prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs mirror: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return mirror.Close() })
		writerOpts.Mirror = mirror
		logger.Info("mirroring results to gcs", zap.String("bucket", cfg.Mirror.GCSBucket))
	}
	if cfg.Notify.Topic != "" {
		pub, err := pubsub.Open(ctx, pubsub.Config{
			ProjectID:  cfg.Notify.ProjectID,
			TopicID:    cfg.Notify.Topic,
			Attributes: map[string]string{"run_id": runID.String()},
		})
		if err != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		writerOpts.Publisher = pub
		logger.Info("publishing completions", zap.String("topic", cfg.Notify.Topic))
	}

	progressSinks, err := a.buildSinks(ctx, opts.Registry)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, progressSinks...)

	var echo io.Writer
	if cfg.Output.Stdout {
		echo = opts.Stdout
		if echo == nil {
			echo = os.Stdout
		}
	}
	writer := result.New(result.Config{
		RunID:     runID.String(),
		Echo:      echo,
		Converter: converter,
	}, writerOpts)

	runIDBytes := progress.UUIDToBytes(runID)
	sess := session.New(session.Config{
		Definitions: defs,
		Headless:    cfg.Engine.Headless,
		Timeout:     cfg.Schedule.TaskTimeout,
		RunID:       runIDBytes,
	}, eng, writer, session.Options{Emitter: a.hub, Clock: clock, Logger: logger})

	a.scheduler = scheduler.New(scheduler.Config{
		RatePerMinute: cfg.Schedule.RatePerMinute,
		PollInterval:  cfg.Schedule.PollInterval,
		GracePeriod:   cfg.Schedule.GracePeriod,
		RunID:         runIDBytes,
	}, a.items, workspaces, sess, scheduler.Options{Emitter: a.hub, Clock: clock, Logger: logger})

	logger.Info("run configured",
		zap.Int("tasks", len(a.items)),
		zap.Int("definitions", len(defs)),
		zap.String("output", workspaces.Root()),
		zap.Bool("headless", cfg.Engine.Headless),
	)
	return a, nil
}

func (a *App) buildEngine() (engine.Engine, error) {
	staticSource := static.New(static.Config{
		UserAgent: a.cfg.Engine.UserAgent,
		Timeout:   a.cfg.Engine.RequestTimeout,
	})
	if !a.cfg.Engine.Headless {
		return engine.NewRunner(staticSource, nil), nil
	}
	browser, err := headless.NewChromedp(headless.Config{
		UserAgent:         a.cfg.Engine.UserAgent,
		NavigationTimeout: a.cfg.Engine.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("start headless browser: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		browser.Close()
		return nil
	})
	return engine.NewRunner(staticSource, browser), nil
}

func (a *App) buildSinks(ctx context.Context, reg *prometheus.Registry) ([]progress.Sink, error) {
	out := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress"))}

	if reg == nil {
		reg = metrics.NewRegistry()
	}
	a.registry = reg
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("register progress metrics: %w", err)
	}
	out = append(out, promSink)

	if a.cfg.Ledger.DSN != "" {
		ledger, err := postgres.NewLedgerStore(ctx, postgres.LedgerConfig{DSN: a.cfg.Ledger.DSN, Table: a.cfg.Ledger.Table})
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			ledger.Close()
			return nil
		})
		if err := ledger.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare ledger schema: %w", err)
		}
		out = append(out, sinks.NewStoreSink(ledger, a.logger.Named("ledger")))
	}
	return out, nil
}

// RunID returns the identifier carried on every log line and event of the run.
func (a *App) RunID() string {
	return a.runID.String()
}

// Tasks returns the number of queued work items.
func (a *App) Tasks() int {
	return len(a.items)
}

// Run serves metrics when configured and blocks until the scheduler returns.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer func() {
		stopMetrics()
		wg.Wait()
	}()

	if addr := a.cfg.Metrics.Addr; addr != "" {
		endpoint, err := metrics.NewEndpoint(a.registry)
		if err != nil {
			return fmt.Errorf("build metrics endpoint: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(metricsCtx, addr, endpoint.Router(), a.logger); err != nil {
				a.logger.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	return a.scheduler.Run(ctx)
}

// Close flushes progress sinks and releases every external client. It is
// safe to call more than once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		var errs []error
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close progress hub: %w", err))
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			a.logger.Warn("shutdown completed with errors", zap.Error(err))
		}
		_ = a.logger.Sync()
	})
}
