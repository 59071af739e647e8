package app_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapequeue/internal/app"
	"github.com/JakeFAU/scrapequeue/internal/config"
	"github.com/JakeFAU/scrapequeue/internal/engine"
	"github.com/JakeFAU/scrapequeue/internal/format"
	"github.com/JakeFAU/scrapequeue/internal/queue"
	"github.com/JakeFAU/scrapequeue/internal/result"
	"github.com/JakeFAU/scrapequeue/internal/scraperdef"
	"github.com/JakeFAU/scrapequeue/internal/task"
)

const titleDefinition = `
name: title
elements:
  - name: title
    selector: h1
`

// titleEngine answers every scrape with a result whose title is the url.
type titleEngine struct {
	mu   sync.Mutex
	urls []string
}

func (e *titleEngine) Scrape(_ context.Context, req engine.Request) (<-chan engine.Event, error) {
	e.mu.Lock()
	e.urls = append(e.urls, req.URL)
	e.mu.Unlock()

	ch := make(chan engine.Event, 2)
	ch <- engine.Event{Kind: engine.KindCapture, Capture: &engine.Capture{Definition: "title", Element: "title", Value: req.URL}}
	ch <- engine.Event{Kind: engine.KindResult, Result: &task.Result{
		Raw:        map[string]any{"title": req.URL},
		Structured: map[string]task.Field{"title": {Value: req.URL}},
	}}
	close(ch)
	return ch, nil
}

func (e *titleEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.urls...)
}

type fixture struct {
	dir     string
	urlFile string
	defFile string
	output  string
}

func newFixture(t *testing.T, urls ...string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		urlFile: filepath.Join(dir, "urls.txt"),
		defFile: filepath.Join(dir, "title.yaml"),
		output:  filepath.Join(dir, "out"),
	}
	require.NoError(t, os.WriteFile(f.urlFile, []byte(strings.Join(urls, "\n\n")+"\n"), 0o600))
	require.NoError(t, os.WriteFile(f.defFile, []byte(titleDefinition), 0o600))
	return f
}

func (f fixture) config(t *testing.T, overrides map[string]any) config.Config {
	t.Helper()
	v := config.New()
	v.Set("input.file", f.urlFile)
	v.Set("scraper.file", f.defFile)
	v.Set("output.root", f.output)
	v.Set("output.numeric", true)
	v.Set("schedule.rate_per_minute", 6000)
	v.Set("schedule.poll_interval", 5*time.Millisecond)
	v.Set("schedule.grace_period", 0)
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

// TestRunWritesEveryTask drives a full run through the real scheduler,
// session and result writer.
func TestRunWritesEveryTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "https://a.example.com/1", "https://b.example.com/2")
	cfg := f.config(t, map[string]any{"output.stdout": true, "output.format": "yaml"})
	eng := &titleEngine{}
	var stdout bytes.Buffer
	reg := prometheus.NewRegistry()

	a, err := app.New(context.Background(), cfg, app.Options{Engine: eng, Stdout: &stdout, Registry: reg})
	require.NoError(t, err)
	require.Equal(t, 2, a.Tasks())
	require.NotEmpty(t, a.RunID())

	require.NoError(t, a.Run(context.Background()))
	a.Close(context.Background())

	assert.Equal(t, []string{"https://a.example.com/1", "https://b.example.com/2"}, eng.Calls())

	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for i, name := range []string{"1", "2"} {
		data, err := os.ReadFile(filepath.Join(f.output, name, result.FileName))
		require.NoError(t, err)
		assert.Equal(t, lines[i]+"\n", string(data))
		assert.Contains(t, string(data), `"url":{"value":"https://`)
		assert.FileExists(t, filepath.Join(f.output, name, "result.yaml"))
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "scrapequeue_tasks_dispatched_total")
}

// TestNewRejectsConflictingScraperSources fails before anything is dispatched.
func TestNewRejectsConflictingScraperSources(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "https://a.example.com/")
	cfg := f.config(t, nil)
	cfg.Scraper.Dir = f.dir
	eng := &titleEngine{}

	_, err := app.New(context.Background(), cfg, app.Options{Engine: eng})
	require.Error(t, err)
	assert.ErrorIs(t, err, scraperdef.ErrConflictingSources)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Empty(t, eng.Calls())
	assert.NoDirExists(t, f.output)
}

// TestNewReportsUnreadableQueue surfaces a missing url file.
func TestNewReportsUnreadableQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "https://a.example.com/")
	cfg := f.config(t, nil)
	cfg.Input.File = filepath.Join(f.dir, "missing.txt")

	_, err := app.New(context.Background(), cfg, app.Options{Engine: &titleEngine{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load queue")
}

// TestNewRejectsUnknownFormat treats an unregistered format as configuration.
func TestNewRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "https://a.example.com/")
	cfg := f.config(t, nil)
	cfg.Output.Format = "xml"

	_, err := app.New(context.Background(), cfg, app.Options{Engine: &titleEngine{}})
	require.ErrorIs(t, err, format.ErrUnknownFormat)
}

// TestRunStopsOnCancel returns the context error without finishing the queue.
func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "https://a.example.com/1", "https://a.example.com/2")
	cfg := f.config(t, map[string]any{"schedule.rate_per_minute": 0.001})
	eng := &titleEngine{}

	a, err := app.New(context.Background(), cfg, app.Options{Engine: eng})
	require.NoError(t, err)
	defer a.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = a.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"https://a.example.com/1"}, eng.Calls())
}

// TestConfigSourcesMapToLoaders keeps the config accessors and loaders aligned.
func TestConfigSourcesMapToLoaders(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "https://a.example.com/")
	cfg := f.config(t, nil)
	items, err := queue.Load(cfg.QueueSource())
	require.NoError(t, err)
	require.Len(t, items, 1)
	defs, err := scraperdef.Resolve(cfg.ScraperSource(), nil)
	require.NoError(t, err)
	require.Len(t, defs, 1)
}
