// Package queue turns the configured identifier source into the ordered list
// of work items the scheduler walks through.
package queue

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/JakeFAU/scrapequeue/internal/task"
)

var (
	// ErrMissingSource is returned when neither an identifier nor a file is set.
	ErrMissingSource = errors.New("one of a url or a url file is required")
	// ErrConflictingSources is returned when both an identifier and a file are set.
	ErrConflictingSources = errors.New("a url and a url file are mutually exclusive")
)

// Source names where identifiers come from. Exactly one field must be set.
type Source struct {
	Identifier string
	File       string
}

// Validate checks that exactly one source is configured.
func (s Source) Validate() error {
	hasID := strings.TrimSpace(s.Identifier) != ""
	hasFile := strings.TrimSpace(s.File) != ""
	switch {
	case hasID && hasFile:
		return ErrConflictingSources
	case !hasID && !hasFile:
		return ErrMissingSource
	}
	return nil
}

// Load resolves the source into work items in file order.
func Load(src Source) ([]task.WorkItem, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if id := strings.TrimSpace(src.Identifier); id != "" {
		return []task.WorkItem{{Index: 0, Identifier: id}}, nil
	}
	// #nosec G304 -- the url file path is operator supplied.
	data, err := os.ReadFile(src.File)
	if err != nil {
		return nil, fmt.Errorf("read url file %s: %w", src.File, err)
	}
	return Parse(string(data)), nil
}

// Parse splits newline-delimited content, trimming whitespace and dropping
// blank lines. Duplicates are kept.
func Parse(content string) []task.WorkItem {
	lines := strings.Split(content, "\n")
	items := make([]task.WorkItem, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, task.WorkItem{Index: len(items), Identifier: line})
	}
	return items
}
