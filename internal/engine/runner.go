package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scrapequeue/internal/scraperdef"
	"github.com/JakeFAU/scrapequeue/internal/task"
)

const defaultEventBuffer = 16

var (
	errNoMatch      = errors.New("selector matched nothing")
	errMissingAttr  = errors.New("attribute not present")
	errNoDefinition = errors.New("no scraper definition matches url")
)

// Runner implements Engine over a static and an optional headless PageSource.
type Runner struct {
	static   PageSource
	headless PageSource
	buffer   int
}

// NewRunner wires the page sources. headless may be nil.
func NewRunner(static, headless PageSource) *Runner {
	return &Runner{static: static, headless: headless, buffer: defaultEventBuffer}
}

// Scrape starts the scrape on its own goroutine and returns its event stream.
func (r *Runner) Scrape(ctx context.Context, req Request) (<-chan Event, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("url is required")
	}
	if len(req.Definitions) == 0 {
		return nil, fmt.Errorf("at least one scraper definition is required")
	}
	source := r.static
	if req.Headless {
		source = r.headless
		if source == nil {
			return nil, ErrHeadlessUnavailable
		}
	}
	if source == nil {
		return nil, fmt.Errorf("no page source configured")
	}

	events := make(chan Event, r.buffer)
	go func() {
		defer close(events)
		r.run(ctx, source, req, events)
	}()
	return events, nil
}

func (r *Runner) run(ctx context.Context, source PageSource, req Request, events chan<- Event) {
	send := func(evt Event) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case events <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}
	emit := func(re RendererEvent) {
		send(Event{Kind: KindRenderer, Renderer: &re})
	}

	elements := applicableElements(req.URL, req.Definitions)
	result := &task.Result{
		Raw:        make(map[string]any, len(elements)),
		Structured: make(map[string]task.Field, len(elements)),
	}

	body, err := source.Load(ctx, req.URL, emit)
	var doc *goquery.Document
	if err == nil {
		doc, err = goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			err = fmt.Errorf("parse html: %w", err)
		}
	}
	if err != nil {
		if !send(Event{Kind: KindRenderer, Renderer: &RendererEvent{Phase: PhaseError, URL: req.URL, Err: err}}) {
			return
		}
	}
	if len(elements) == 0 {
		emit(RendererEvent{Phase: PhaseError, URL: req.URL, Err: errNoDefinition})
	}

	for _, el := range elements {
		capture := Capture{Definition: el.definition, Element: el.Name, Required: el.Required}
		if err != nil {
			capture.Err = fmt.Errorf("page unavailable: %w", err)
		} else {
			capture.Value, capture.Err = Extract(doc.Selection, el.Element)
		}
		if capture.Failed() {
			result.Raw[el.Name] = CaptureFailure{Error: capture.Err.Error()}
			result.Structured[el.Name] = task.Field{Value: nil}
		} else {
			result.Raw[el.Name] = capture.Value
			result.Structured[el.Name] = task.Field{Value: capture.Value}
		}
		if !send(Event{Kind: KindCapture, Capture: &capture}) {
			return
		}
	}
	send(Event{Kind: KindResult, Result: result})
}

type boundElement struct {
	scraperdef.Element
	definition string
}

// applicableElements merges the elements of every definition matching url.
// A later definition's element replaces an earlier one with the same name.
func applicableElements(url string, defs []*scraperdef.Definition) []boundElement {
	var out []boundElement
	index := make(map[string]int)
	for _, def := range defs {
		if def == nil || !def.Matches(url) {
			continue
		}
		for _, el := range def.Elements {
			bound := boundElement{Element: el, definition: def.Name}
			if i, ok := index[el.Name]; ok {
				out[i] = bound
				continue
			}
			index[el.Name] = len(out)
			out = append(out, bound)
		}
	}
	return out
}

// Extract resolves one element against root. Multiple elements yield a
// []string; otherwise the first match's text or attribute is returned.
func Extract(root *goquery.Selection, el scraperdef.Element) (any, error) {
	sel := root.Find(el.Selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%s: %w", el.Selector, errNoMatch)
	}
	if !el.Multiple {
		return nodeValue(sel.First(), el.Attr)
	}
	values := make([]string, 0, sel.Length())
	var firstErr error
	sel.Each(func(_ int, s *goquery.Selection) {
		v, err := nodeValue(s, el.Attr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		values = append(values, v)
	})
	if len(values) == 0 {
		return nil, firstErr
	}
	return values, nil
}

func nodeValue(s *goquery.Selection, attr string) (string, error) {
	if attr == "" {
		return strings.TrimSpace(s.Text()), nil
	}
	v, ok := s.Attr(attr)
	if !ok {
		return "", fmt.Errorf("%s: %w", attr, errMissingAttr)
	}
	return strings.TrimSpace(v), nil
}
