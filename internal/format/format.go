// Package format converts structured results into secondary output formats.
package format

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"

	"github.com/JakeFAU/scrapequeue/internal/task"
)

// ErrUnknownFormat is returned by Lookup for unregistered format names.
var ErrUnknownFormat = errors.New("unknown output format")

// Converter renders a structured result.
type Converter interface {
	Name() string
	// Extension is the file extension without the leading dot.
	Extension() string
	ContentType() string
	Convert(structured map[string]task.Field) ([]byte, error)
}

var registry = map[string]Converter{
	"yaml": yamlConverter{},
	"yml":  yamlConverter{},
	"toml": tomlConverter{},
	"csv":  csvConverter{},
}

// Lookup returns the converter registered under name (case-insensitive).
func Lookup(name string) (Converter, error) {
	c, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownFormat, name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists the registered format names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type yamlConverter struct{}

func (yamlConverter) Name() string        { return "yaml" }
func (yamlConverter) Extension() string   { return "yaml" }
func (yamlConverter) ContentType() string { return "application/yaml" }

func (yamlConverter) Convert(structured map[string]task.Field) ([]byte, error) {
	out, err := yaml.Marshal(structured)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return out, nil
}

type tomlConverter struct{}

func (tomlConverter) Name() string        { return "toml" }
func (tomlConverter) Extension() string   { return "toml" }
func (tomlConverter) ContentType() string { return "application/toml" }

// Convert writes one table per element. TOML has no null, so failed
// elements become empty tables.
func (tomlConverter) Convert(structured map[string]task.Field) ([]byte, error) {
	doc := make(map[string]map[string]any, len(structured))
	for key, field := range structured {
		table := map[string]any{}
		if field.Value != nil {
			table["value"] = field.Value
		}
		doc[key] = table
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal toml: %w", err)
	}
	return out, nil
}

type csvConverter struct{}

func (csvConverter) Name() string        { return "csv" }
func (csvConverter) Extension() string   { return "csv" }
func (csvConverter) ContentType() string { return "text/csv" }

// Convert writes element,value rows sorted by element. Non-string values are
// JSON encoded.
func (csvConverter) Convert(structured map[string]task.Field) ([]byte, error) {
	keys := make([]string, 0, len(structured))
	for key := range structured {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"element", "value"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, key := range keys {
		cell, err := cellValue(structured[key].Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if err := w.Write([]string{key, cell}); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func cellValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("marshal cell: %w", err)
		}
		return string(out), nil
	}
}
