// Package static implements engine.PageSource with a plain HTTP fetch via Colly.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/scrapequeue/internal/engine"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Source fetches pages without executing JavaScript.
type Source struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Source.
func New(cfg Config) *Source {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	return &Source{cfg: cfg, baseCollector: c}
}

// Load performs a single GET and returns the response body.
func (s *Source) Load(ctx context.Context, url string, emit func(engine.RendererEvent)) ([]byte, error) {
	collector := s.buildCollector()
	collector.Context = ctx
	fetch := &fetchState{}
	s.configureCollectorHooks(collector, fetch, emit)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("colly visit failed: %w", err)
		}
		return fetch.result()
	}
}

func (s *Source) buildCollector() *colly.Collector {
	collector := s.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (s *Source) configureCollectorHooks(hooks collectorHooks, fetch *fetchState, emit func(engine.RendererEvent)) {
	hooks.OnRequest(func(r *colly.Request) {
		emit(engine.RendererEvent{Phase: engine.PhaseRequest, URL: r.URL.String()})
	})

	hooks.OnResponse(func(r *colly.Response) {
		fetch.setBody(r.StatusCode, r.Body)
		emit(engine.RendererEvent{Phase: engine.PhaseResponse, URL: r.Request.URL.String(), Status: r.StatusCode})
	})

	hooks.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetch.setErr(status, err)
	})
}

type fetchState struct {
	mu     sync.Mutex
	status int
	body   []byte
	err    error
}

func (f *fetchState) setBody(status int, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.body = append([]byte(nil), body...)
}

func (f *fetchState) setErr(status int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.err = err
}

func (f *fetchState) result() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		if f.status != 0 {
			return nil, fmt.Errorf("colly response failed with status %d: %w", f.status, f.err)
		}
		return nil, fmt.Errorf("colly response failed: %w", f.err)
	}
	return f.body, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
