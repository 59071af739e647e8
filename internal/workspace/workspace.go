// Package workspace assigns each task an isolated output directory under the
// run's output root and hands it out as a single exclusive lease.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/kennygrant/sanitize"

	"github.com/JakeFAU/scrapequeue/internal/storage/local"
	"github.com/JakeFAU/scrapequeue/internal/task"
)

// ErrWorkspaceBusy is returned by Acquire while another lease is outstanding.
var ErrWorkspaceBusy = errors.New("another workspace is still in use")

const maxNameBytes = 200

var repeatedSeparators = regexp.MustCompile(`/{2,}`)

// Config controls directory naming.
type Config struct {
	Root    string
	Numeric bool
}

// Manager creates task directories and tracks the active lease.
type Manager struct {
	root    *local.BlobStore
	numeric bool

	mu     sync.Mutex
	issued map[string]struct{}
	active *Workspace
}

// NewManager creates the output root if needed.
func NewManager(cfg Config) (*Manager, error) {
	root, err := local.New(local.Config{BaseDir: cfg.Root})
	if err != nil {
		return nil, fmt.Errorf("prepare output root: %w", err)
	}
	return &Manager{
		root:    root,
		numeric: cfg.Numeric,
		issued:  make(map[string]struct{}),
	}, nil
}

// Root returns the output root directory.
func (m *Manager) Root() string {
	return m.root.BaseDir()
}

// DirName derives the directory name for item without uniqueness handling.
func DirName(item task.WorkItem, numeric bool) string {
	ordinal := strconv.Itoa(item.Ordinal())
	if numeric {
		return ordinal
	}
	name := repeatedSeparators.ReplaceAllString(item.Identifier, "/")
	name = strings.ReplaceAll(name, ":", "")
	name = sanitize.BaseName(name)
	if len(name) > maxNameBytes {
		name = name[:maxNameBytes]
	}
	if strings.Trim(name, ".") == "" {
		return ordinal
	}
	return name
}

// Acquire creates the directory for item and returns it as the active lease.
func (m *Manager) Acquire(item task.WorkItem) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrWorkspaceBusy
	}

	name := m.uniqueName(item)
	dir := filepath.Join(m.root.BaseDir(), name)
	store, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", name, err)
	}
	m.issued[name] = struct{}{}
	ws := &Workspace{name: name, store: store, manager: m}
	m.active = ws
	return ws, nil
}

// Active reports whether a lease is outstanding.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

func (m *Manager) uniqueName(item task.WorkItem) string {
	name := DirName(item, m.numeric)
	if _, taken := m.issued[name]; !taken {
		return name
	}
	base := name + "-" + strconv.Itoa(item.Ordinal())
	name = base
	for i := 2; ; i++ {
		if _, taken := m.issued[name]; !taken {
			return name
		}
		name = base + "-" + strconv.Itoa(i)
	}
}

func (m *Manager) release(ws *Workspace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == ws {
		m.active = nil
	}
}

// Workspace is one task's output directory. All task file writes go through
// Put so the path is explicit rather than relying on the process cwd.
type Workspace struct {
	name    string
	store   *local.BlobStore
	manager *Manager
	once    sync.Once
}

// Name returns the directory name relative to the output root.
func (w *Workspace) Name() string {
	return w.name
}

// Path returns the absolute or root-relative directory path.
func (w *Workspace) Path() string {
	return w.store.BaseDir()
}

// Put writes data to a file inside the workspace and returns its path.
func (w *Workspace) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if _, err := w.store.PutObject(ctx, name, contentType, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return filepath.Join(w.store.BaseDir(), name), nil
}

// Release ends the lease. It is safe to call more than once.
func (w *Workspace) Release() {
	w.once.Do(func() {
		w.manager.release(w)
	})
}
