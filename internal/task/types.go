package task

import (
	"sync"
	"time"
)

// ReservedKey is the result key under which the task identifier is injected.
const ReservedKey = "url"

// Status represents the lifecycle state of a single task.
type Status string

// Task status values. Transitions only go forward.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
)

// WorkItem is one entry of the loaded queue.
type WorkItem struct {
	Index      int
	Identifier string
}

// Ordinal returns the 1-based queue position.
func (w WorkItem) Ordinal() int {
	return w.Index + 1
}

// State tracks one dispatched task. It is safe for concurrent use; the
// scheduler polls Status while the session goroutine mutates it.
type State struct {
	Item WorkItem

	mu             sync.Mutex
	workspacePath  string
	status         Status
	capturesFailed int
	startedAt      time.Time
	finishedAt     time.Time
}

// NewState returns a pending State for item.
func NewState(item WorkItem) *State {
	return &State{Item: item, status: StatusPending}
}

// Status reports the current status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done reports whether the task has completed.
func (s *State) Done() bool {
	return s.Status() == StatusDone
}

// Start moves a pending task to running.
func (s *State) Start(workspacePath string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return false
	}
	s.status = StatusRunning
	s.workspacePath = workspacePath
	s.startedAt = at
	return true
}

// Finish marks the task done. Calling it more than once is a no-op.
func (s *State) Finish(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusDone {
		return false
	}
	s.status = StatusDone
	s.finishedAt = at
	return true
}

// AddCaptureFailure increments the failed capture counter.
func (s *State) AddCaptureFailure() {
	s.mu.Lock()
	s.capturesFailed++
	s.mu.Unlock()
}

// CapturesFailed returns the failed capture count.
func (s *State) CapturesFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturesFailed
}

// WorkspacePath returns the directory assigned when the task started.
func (s *State) WorkspacePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspacePath
}

// Elapsed returns the run time of a finished task.
func (s *State) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() || s.finishedAt.IsZero() {
		return 0
	}
	return s.finishedAt.Sub(s.startedAt)
}

// Field wraps a structured value.
type Field struct {
	Value any `json:"value" yaml:"value" toml:"value"`
}

// Result holds the parallel raw and structured maps produced by the engine.
type Result struct {
	Raw        map[string]any
	Structured map[string]Field
}

// HasKey reports whether key exists in either map.
func (r Result) HasKey(key string) bool {
	if _, ok := r.Raw[key]; ok {
		return true
	}
	_, ok := r.Structured[key]
	return ok
}

// InjectIdentifier stores id under ReservedKey in both maps. It refuses to
// overwrite and returns false when the key is already present.
func (r *Result) InjectIdentifier(id string) bool {
	if r.HasKey(ReservedKey) {
		return false
	}
	if r.Raw == nil {
		r.Raw = make(map[string]any)
	}
	if r.Structured == nil {
		r.Structured = make(map[string]Field)
	}
	r.Raw[ReservedKey] = id
	r.Structured[ReservedKey] = Field{Value: id}
	return true
}

// Artifact describes the durable output of one completed task.
type Artifact struct {
	ResultPath    string `json:"result_path"`
	ConvertedPath string `json:"converted_path,omitempty"`
	MirrorURI     string `json:"mirror_uri,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	Hash          string `json:"hash"`
}
