// Package scraperdef loads and validates the declarative scraper definitions
// handed to the extraction engine.
package scraperdef

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"
)

var (
	// ErrNoDefinitions is returned when a directory yields no valid definition.
	ErrNoDefinitions = errors.New("no valid scraper definitions found")
	// ErrMissingSource is returned when neither a file nor a directory is set.
	ErrMissingSource = errors.New("one of a scraper file or a scraper directory is required")
	// ErrConflictingSources is returned when both a file and a directory are set.
	ErrConflictingSources = errors.New("a scraper file and a scraper directory are mutually exclusive")
)

var validate = newValidator()

// Element describes one value to capture from a page.
type Element struct {
	Name     string `yaml:"name" json:"name" validate:"required,excludes=/"`
	Selector string `yaml:"selector" json:"selector" validate:"required"`
	// Attr captures an attribute instead of the element text when set.
	Attr     string `yaml:"attr,omitempty" json:"attr,omitempty"`
	Multiple bool   `yaml:"multiple,omitempty" json:"multiple,omitempty"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Definition is one scraper definition file.
type Definition struct {
	Name     string    `yaml:"name" json:"name" validate:"required"`
	Match    string    `yaml:"match,omitempty" json:"match,omitempty" validate:"omitempty,regexp"`
	Elements []Element `yaml:"elements" json:"elements" validate:"required,min=1,unique=Name,dive"`

	source  string
	matcher *regexp.Regexp
}

// Source returns the file the definition was read from.
func (d *Definition) Source() string {
	return d.source
}

// Matches reports whether the definition applies to url. Definitions without
// a match pattern apply to every url.
func (d *Definition) Matches(url string) bool {
	if d.matcher == nil {
		return true
	}
	return d.matcher.MatchString(url)
}

// Source names where definitions come from. Exactly one field must be set.
type Source struct {
	File string
	Dir  string
}

// Validate checks that exactly one source is configured.
func (s Source) Validate() error {
	hasFile := strings.TrimSpace(s.File) != ""
	hasDir := strings.TrimSpace(s.Dir) != ""
	switch {
	case hasFile && hasDir:
		return ErrConflictingSources
	case !hasFile && !hasDir:
		return ErrMissingSource
	}
	return nil
}

// Resolve loads the definitions named by src.
func Resolve(src Source, logger *zap.Logger) ([]*Definition, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.File != "" {
		def, err := Load(src.File)
		if err != nil {
			return nil, err
		}
		return []*Definition{def}, nil
	}
	return LoadDir(src.Dir, logger)
}

// Load reads and validates a single definition file.
func Load(path string) (*Definition, error) {
	// #nosec G304 -- definition paths are operator supplied.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scraper definition %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scraper definition %s: %w", path, err)
	}
	def.source = path
	return def, nil
}

// Parse decodes a YAML or JSON definition and validates it.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := validate.Struct(&def); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	if def.Match != "" {
		def.matcher = regexp.MustCompile(def.Match)
	}
	return &def, nil
}

// LoadDir loads every *.yaml, *.yml and *.json file in dir. Invalid files are
// logged and skipped; ErrNoDefinitions is returned when nothing loads.
func LoadDir(dir string, logger *zap.Logger) ([]*Definition, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scraper directory %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		def, err := Load(filepath.Join(dir, name))
		if err != nil {
			logger.Error("skipping invalid scraper definition", zap.String("file", name), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoDefinitions)
	}
	return defs, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(fmt.Sprintf("register regexp validation: %v", err))
	}
	return v
}
