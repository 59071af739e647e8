package static

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapequeue/internal/engine"
)

type phaseRecorder struct {
	mu     sync.Mutex
	events []engine.RendererEvent
}

func (p *phaseRecorder) emit(evt engine.RendererEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *phaseRecorder) phases() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Phase)
	}
	return out
}

// TestLoadReturnsBody fetches a page and reports request/response phases.
func TestLoadReturnsBody(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		fmt.Fprint(w, "<html><h1>ok</h1></html>")
	}))
	defer srv.Close()

	src := New(Config{UserAgent: "scrapequeue-test", Timeout: time.Second})
	rec := &phaseRecorder{}
	body, err := src.Load(context.Background(), srv.URL, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "<html><h1>ok</h1></html>", string(body))
	assert.Equal(t, "scrapequeue-test", gotUA)
	assert.Equal(t, []string{engine.PhaseRequest, engine.PhaseResponse}, rec.phases())
}

// TestLoadRevisitsSameURL allows duplicate queue entries to be fetched again.
func TestLoadRevisitsSameURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	src := New(Config{})
	for i := 0; i < 2; i++ {
		_, err := src.Load(context.Background(), srv.URL, func(engine.RendererEvent) {})
		require.NoError(t, err)
	}
}

// TestLoadErrorStatus surfaces non-2xx responses as errors.
func TestLoadErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{}).Load(context.Background(), srv.URL, func(engine.RendererEvent) {})
	require.Error(t, err)
}

// TestLoadCanceled stops waiting once the context ends.
func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		fmt.Fprint(w, "late")
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Load(ctx, srv.URL, func(engine.RendererEvent) {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestLoadCancelAbortsRequest drops the in-flight HTTP request when the
// context ends instead of leaving it to the request timeout.
func TestLoadCancelAbortsRequest(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(time.Minute):
			fmt.Fprint(w, "late")
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := New(Config{Timeout: time.Minute}).Load(ctx, srv.URL, func(engine.RendererEvent) {})
		errCh <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Eventually(t, func() bool {
		select {
		case <-aborted:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

// TestBuildCollectorDefaults applies the user agent and revisit settings.
func TestBuildCollectorDefaults(t *testing.T) {
	t.Parallel()

	src := New(Config{UserAgent: "agent"})
	collector := src.buildCollector()
	assert.Equal(t, "agent", collector.UserAgent)
	assert.True(t, collector.AllowURLRevisit)
}
