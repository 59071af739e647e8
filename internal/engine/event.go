package engine

import (
	"context"
	"errors"

	"github.com/JakeFAU/scrapequeue/internal/scraperdef"
	"github.com/JakeFAU/scrapequeue/internal/task"
)

// ErrHeadlessUnavailable is returned when a headless scrape is requested but
// no browser-backed source is configured.
var ErrHeadlessUnavailable = errors.New("headless rendering is not configured")

// Kind identifies the category of an Event.
type Kind string

// Event categories.
const (
	KindCapture  Kind = "capture"
	KindRenderer Kind = "renderer"
	KindResult   Kind = "result"
)

// Renderer lifecycle phases.
const (
	PhaseLaunch   = "launch"
	PhaseRequest  = "request"
	PhaseResponse = "response"
	PhaseNavigate = "navigate"
	PhaseReady    = "ready"
	PhaseClose    = "close"
	PhaseError    = "error"
)

// Capture reports the outcome of extracting one element.
type Capture struct {
	Definition string
	Element    string
	Required   bool
	Value      any
	Err        error
}

// Failed reports whether the element could not be captured.
func (c Capture) Failed() bool {
	return c.Err != nil
}

// RendererEvent reports page loading progress.
type RendererEvent struct {
	Phase  string
	URL    string
	Status int
	Err    error
}

// Event is one item of the stream returned by Scrape. Exactly one of the
// pointer fields is set, matching Kind.
type Event struct {
	Kind     Kind
	Capture  *Capture
	Renderer *RendererEvent
	Result   *task.Result
}

// Request describes one scrape.
type Request struct {
	URL         string
	Definitions []*scraperdef.Definition
	Headless    bool
}

// Engine runs scrapes.
type Engine interface {
	Scrape(ctx context.Context, req Request) (<-chan Event, error)
}

// PageSource loads the HTML for a url, reporting lifecycle phases via emit.
type PageSource interface {
	Load(ctx context.Context, url string, emit func(RendererEvent)) ([]byte, error)
}

// CaptureFailure is the raw-map marker stored for elements that failed.
type CaptureFailure struct {
	Error string `json:"error"`
}
