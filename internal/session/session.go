// Package session runs one scrape per task and turns its event stream into output.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapequeue/internal/clock/system"
	"github.com/JakeFAU/scrapequeue/internal/engine"
	"github.com/JakeFAU/scrapequeue/internal/progress"
	"github.com/JakeFAU/scrapequeue/internal/result"
	"github.com/JakeFAU/scrapequeue/internal/scraperdef"
	"github.com/JakeFAU/scrapequeue/internal/task"
)

var (
	// ErrNoResult is reported when the event stream ends without a result event.
	ErrNoResult = errors.New("engine stream closed without a result")
	// ErrTimeout is reported when the optional task timeout expires.
	ErrTimeout = errors.New("scrape timed out")
)

// Config controls every session of a run.
type Config struct {
	Definitions []*scraperdef.Definition
	Headless    bool
	// Timeout bounds a single scrape. Zero waits for the engine indefinitely.
	Timeout time.Duration
	RunID   [16]byte
}

// Lease is the workspace a session writes into.
type Lease interface {
	result.Target
	Path() string
	Release()
}

// ResultWriter persists a finished result.
type ResultWriter interface {
	Write(ctx context.Context, item task.WorkItem, ws result.Target, structured map[string]task.Field, sum result.Summary) (task.Artifact, error)
}

// Options carries optional collaborators.
type Options struct {
	Emitter progress.Emitter
	Clock   task.Clock
	Logger  *zap.Logger
}

// Outcome summarizes one finished session.
type Outcome struct {
	Total    int
	Captured int
	Failed   int
	Artifact task.Artifact
	Err      error
}

// Session consumes engine events for one task at a time.
type Session struct {
	cfg     Config
	engine  engine.Engine
	writer  ResultWriter
	emitter progress.Emitter
	clock   task.Clock
	logger  *zap.Logger
}

// New constructs a Session.
func New(cfg Config, eng engine.Engine, writer ResultWriter, opts Options) *Session {
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
	return &Session{
		cfg:     cfg,
		engine:  eng,
		writer:  writer,
		emitter: emitter,
		clock:   clock,
		logger:  logger.Named("session"),
	}
}

// Run scrapes state's item into ws. The workspace is always released and
// the task always marked done before Run returns.
func (s *Session) Run(ctx context.Context, state *task.State, ws Lease) (out Outcome) {
	item := state.Item
	logger := s.logger.With(zap.Int("task", item.Ordinal()), zap.String("url", item.Identifier))
	state.Start(ws.Path(), s.clock.Now())

	defer func() {
		ws.Release()
		state.Finish(s.clock.Now())
		s.report(state, ws, out)
	}()

	scrapeCtx, cancel := s.scrapeContext(ctx)
	defer cancel()

	events, err := s.engine.Scrape(scrapeCtx, engine.Request{
		URL:         item.Identifier,
		Definitions: s.cfg.Definitions,
		Headless:    s.cfg.Headless,
	})
	if err != nil {
		logger.Error("scrape failed to start", zap.Error(err))
		out.Err = fmt.Errorf("start scrape: %w", err)
		return out
	}

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				if scrapeCtx.Err() != nil {
					out.Err = s.interrupted(ctx, scrapeCtx, logger)
					return out
				}
				logger.Error("scrape ended without a result")
				out.Err = ErrNoResult
				return out
			}
			if evt.Kind != engine.KindResult {
				s.observe(logger, state, evt, &out)
				continue
			}
			s.complete(ctx, logger, item, ws, evt.Result, &out)
			return out
		case <-scrapeCtx.Done():
			out.Err = s.interrupted(ctx, scrapeCtx, logger)
			return out
		}
	}
}

// interrupted classifies why scrapeCtx ended: the task timeout or the run
// context.
func (s *Session) interrupted(ctx, scrapeCtx context.Context, logger *zap.Logger) error {
	if ctx.Err() == nil && errors.Is(scrapeCtx.Err(), context.DeadlineExceeded) {
		logger.Error("scrape timed out", zap.Duration("timeout", s.cfg.Timeout))
		return ErrTimeout
	}
	logger.Warn("scrape canceled", zap.Error(ctx.Err()))
	return ctx.Err()
}

func (s *Session) scrapeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) observe(logger *zap.Logger, state *task.State, evt engine.Event, out *Outcome) {
	switch evt.Kind {
	case engine.KindCapture:
		c := evt.Capture
		if c == nil {
			return
		}
		out.Total++
		if c.Failed() || c.Value == nil {
			out.Failed++
			state.AddCaptureFailure()
			logger.Debug("capture failed",
				zap.String("definition", c.Definition),
				zap.String("element", c.Element),
				zap.Bool("required", c.Required),
				zap.Error(c.Err),
			)
			return
		}
		out.Captured++
		logger.Debug("captured", zap.String("definition", c.Definition), zap.String("element", c.Element))
	case engine.KindRenderer:
		r := evt.Renderer
		if r == nil {
			return
		}
		fields := []zap.Field{zap.String("phase", r.Phase)}
		if r.Status != 0 {
			fields = append(fields, zap.Int("status", r.Status))
		}
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		}
		logger.Debug("renderer", fields...)
	}
}

func (s *Session) complete(
	ctx context.Context,
	logger *zap.Logger,
	item task.WorkItem,
	ws Lease,
	res *task.Result,
	out *Outcome,
) {
	logger.Info("scrape complete",
		zap.String("captured", fmt.Sprintf("%d/%d", out.Captured, out.Total)),
		zap.Int("failed", out.Failed),
	)
	if res == nil {
		res = &task.Result{}
	}
	if !res.InjectIdentifier(item.Identifier) {
		logger.Error("result already has reserved key; identifier not injected",
			zap.String("key", task.ReservedKey))
	}

	artifact, err := s.writer.Write(ctx, item, ws, res.Structured, result.Summary{
		Captured: out.Captured,
		Failed:   out.Failed,
	})
	if err != nil {
		logger.Error("write result failed", zap.Error(err))
		out.Err = err
		return
	}
	out.Artifact = artifact
}

func (s *Session) report(state *task.State, ws Lease, out Outcome) {
	evt := progress.Event{
		RunID:     s.cfg.RunID,
		TS:        s.clock.Now(),
		Stage:     progress.StageTaskDone,
		Task:      state.Item.Ordinal(),
		URL:       state.Item.Identifier,
		Workspace: ws.Name(),
		Captured:  out.Captured,
		Failed:    out.Failed,
		Dur:       state.Elapsed(),
	}
	if out.Err != nil {
		evt.Stage = progress.StageTaskError
		evt.Note = out.Err.Error()
	}
	s.emitter.Emit(evt)
}
