// Package scheduler dispatches queued tasks one at a time under a rate limit
// and decides when the run is complete.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/scrapequeue/internal/clock/system"
	"github.com/JakeFAU/scrapequeue/internal/progress"
	"github.com/JakeFAU/scrapequeue/internal/session"
	"github.com/JakeFAU/scrapequeue/internal/task"
	"github.com/JakeFAU/scrapequeue/internal/workspace"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultRatePerMinute = 3
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultGracePeriod   = 3 * time.Second

	// MaxInterval is the longest dispatch spacing; a fresh limiter still
	// holds a full token at any realistic wall-clock time.
	MaxInterval = time.Duration(math.MaxInt64 / 2)
)

// State is the scheduler's position in the run.
type State string

// Scheduler states.
const (
	StateIdle        State = "idle"
	StateWaiting     State = "waiting"
	StateDispatching State = "dispatching"
	StateDraining    State = "draining"
)

// Runner executes one task. session.Session satisfies it.
type Runner interface {
	Run(ctx context.Context, state *task.State, ws session.Lease) session.Outcome
}

// Config controls pacing and shutdown.
type Config struct {
	RatePerMinute float64
	PollInterval  time.Duration
	GracePeriod   time.Duration
	RunID         [16]byte
}

// MinInterval converts a per-minute rate into the minimum dispatch spacing.
// Non-positive and non-finite rates fall back to DefaultRatePerMinute; rates
// slower than MaxInterval are clamped to it.
func MinInterval(ratePerMinute float64) time.Duration {
	if !(ratePerMinute > 0) || math.IsInf(ratePerMinute, 0) {
		ratePerMinute = DefaultRatePerMinute
	}
	interval := float64(time.Minute) / ratePerMinute
	if interval >= float64(MaxInterval) {
		return MaxInterval
	}
	return time.Duration(interval)
}

// Options carries optional collaborators.
type Options struct {
	Emitter progress.Emitter
	Clock   task.Clock
	Logger  *zap.Logger
	// After replaces time.After for the grace period.
	After func(time.Duration) <-chan time.Time
}

// Scheduler owns all scheduling state for a run. It is driven by a single
// goroutine in Run; sessions run on their own goroutines.
type Scheduler struct {
	cfg        Config
	items      []task.WorkItem
	workspaces *workspace.Manager
	runner     Runner
	emitter    progress.Emitter
	clock      task.Clock
	logger     *zap.Logger
	lifecycle  Lifecycle

	state        State
	cursor       int
	minInterval  time.Duration
	limiter      *rate.Limiter
	lastDispatch time.Time
	current      *task.State
	currentDone  chan struct{}

	sessions sync.WaitGroup
}

// New constructs a Scheduler for items.
func New(cfg Config, items []task.WorkItem, workspaces *workspace.Manager, runner Runner, opts Options) *Scheduler {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = progress.Nop{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	minInterval := MinInterval(cfg.RatePerMinute)
	return &Scheduler{
		cfg:         cfg,
		items:       append([]task.WorkItem(nil), items...),
		workspaces:  workspaces,
		runner:      runner,
		emitter:     emitter,
		clock:       clock,
		logger:      logger.Named("scheduler"),
		lifecycle:   Lifecycle{Grace: cfg.GracePeriod, After: opts.After},
		state:       StateIdle,
		minInterval: minInterval,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// State returns the current scheduler state. Only safe from the goroutine
// running Run or after Run returns.
func (s *Scheduler) State() State {
	return s.state
}

// step is the scheduling transition for one tick. It reports whether an
// item should be dispatched now and which one; it never performs I/O.
func (s *Scheduler) step(now time.Time) (task.WorkItem, bool) {
	if s.state == StateDraining {
		return task.WorkItem{}, false
	}
	if s.limiter.TokensAt(now) < 1 {
		s.state = StateWaiting
		return task.WorkItem{}, false
	}
	if s.current != nil && !s.current.Done() {
		s.state = StateWaiting
		return task.WorkItem{}, false
	}
	if s.cursor >= len(s.items) {
		s.state = StateDraining
		return task.WorkItem{}, false
	}
	if !s.limiter.AllowN(now, 1) {
		s.state = StateWaiting
		return task.WorkItem{}, false
	}
	item := s.items[s.cursor]
	s.cursor++
	s.lastDispatch = now
	s.state = StateDispatching
	if s.cursor >= len(s.items) {
		s.state = StateDraining
	}
	return item, true
}

// Run drives the queue until it drains and the grace period passes, or ctx
// is canceled. Sessions still running at cancellation are waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Int("tasks", len(s.items)),
		zap.Duration("min_interval", s.minInterval),
		zap.Duration("poll_interval", s.cfg.PollInterval),
	)
	defer s.sessions.Wait()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if item, ok := s.step(s.clock.Now()); ok {
			s.dispatch(ctx, item)
		}
		if s.state == StateDraining {
			break
		}
		select {
		case <-ctx.Done():
			s.logger.Warn("scheduler canceled", zap.Int("dispatched", s.cursor), zap.Error(ctx.Err()))
			return fmt.Errorf("scheduler canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	s.logger.Info("queue drained; waiting for final task", zap.Int("dispatched", s.cursor))
	if err := s.lifecycle.Wait(ctx, s.currentDone); err != nil {
		s.logger.Warn("shutdown wait interrupted", zap.Error(err))
		return err
	}
	s.emitter.Emit(progress.Event{RunID: s.cfg.RunID, TS: s.clock.Now(), Stage: progress.StageRunDrained})
	s.logger.Info("run complete", zap.Int("tasks", len(s.items)))
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, item task.WorkItem) {
	logger := s.logger.With(zap.Int("task", item.Ordinal()), zap.String("url", item.Identifier))
	state := task.NewState(item)
	done := make(chan struct{})
	s.current = state
	s.currentDone = done

	ws, err := s.workspaces.Acquire(item)
	if err != nil {
		logger.Error("workspace unavailable; skipping task", zap.Error(err))
		now := s.clock.Now()
		state.Finish(now)
		close(done)
		s.emitter.Emit(progress.Event{
			RunID: s.cfg.RunID,
			TS:    now,
			Stage: progress.StageTaskError,
			Task:  item.Ordinal(),
			URL:   item.Identifier,
			Note:  err.Error(),
		})
		return
	}

	logger.Info("dispatching task", zap.String("workspace", ws.Name()))
	s.emitter.Emit(progress.Event{
		RunID:     s.cfg.RunID,
		TS:        s.lastDispatch,
		Stage:     progress.StageTaskDispatch,
		Task:      item.Ordinal(),
		URL:       item.Identifier,
		Workspace: ws.Name(),
	})

	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		defer close(done)
		s.runner.Run(ctx, state, ws)
	}()
}
