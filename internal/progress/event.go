// Package progress defines the event structures emitted while a run advances.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskDispatch Stage = "TASK_DISPATCH"
	StageTaskDone     Stage = "TASK_DONE"
	StageTaskError    Stage = "TASK_ERROR"
	StageRunDrained   Stage = "RUN_DRAINED"
)

// Event captures a single milestone of a run.
type Event struct {
	// RunID identifies the process invocation using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Task is the 1-based queue position; zero for run-level stages.
	Task int
	// URL is the task identifier.
	URL string
	// Workspace is the directory name assigned to the task.
	Workspace string
	// Captured and Failed count element captures for completed tasks.
	Captured int
	Failed   int
	// Dur is the task wall time for completions.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskDispatch, StageTaskDone, StageTaskError:
		if e.Task <= 0 {
			return fmt.Errorf("%s requires a task ordinal", e.Stage)
		}
	case StageRunDrained:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Captured < 0 || e.Failed < 0 {
		return errors.New("capture counts must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Emitter publishes individual events; Hub satisfies this interface so callers
// can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
