package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapequeue/internal/progress"
	"github.com/JakeFAU/scrapequeue/internal/store"
)

// StoreSink persists task milestones via a store.LedgerRepository.
type StoreSink struct {
	repo   store.LedgerRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.LedgerRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards dispatch and completion events to the repository in
// order. It respects ctx deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageTaskDispatch:
		if err := s.repo.RecordDispatch(ctx, runID, evt.Task, evt.URL, evt.Workspace, evt.TS); err != nil {
			return fmt.Errorf("record dispatch: %w", err)
		}
	case progress.StageTaskDone, progress.StageTaskError:
		done := store.Completion{
			FinishedAt: evt.TS,
			Status:     store.TaskSuccess,
			Captured:   evt.Captured,
			Failed:     evt.Failed,
		}
		if evt.Stage == progress.StageTaskError {
			done.Status = store.TaskError
			if evt.Note != "" {
				note := evt.Note
				done.ErrorMessage = &note
			}
		}
		if err := s.repo.RecordCompletion(ctx, runID, evt.Task, evt.URL, done); err != nil {
			return fmt.Errorf("record completion: %w", err)
		}
	case progress.StageRunDrained:
		s.logger.Debug("run drained", zap.Stringer("run_id", runID))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
