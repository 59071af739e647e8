package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapequeue/internal/format"
	"github.com/JakeFAU/scrapequeue/internal/queue"
	"github.com/JakeFAU/scrapequeue/internal/scraperdef"
)

func validConfig() Config {
	return Config{
		Input:    InputConfig{URL: "https://example.com/"},
		Scraper:  ScraperConfig{File: "product.yaml"},
		Output:   OutputConfig{Root: "output"},
		Schedule: ScheduleConfig{RatePerMinute: 3, PollInterval: 100 * time.Millisecond, GracePeriod: 3 * time.Second},
		Engine:   EngineConfig{RequestTimeout: 30 * time.Second},
	}
}

// TestDefaults checks the values a bare invocation runs with.
func TestDefaults(t *testing.T) {
	t.Parallel()

	v := New()
	v.Set("input.url", "https://example.com/")
	v.Set("scraper.file", "product.yaml")
	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, "output", cfg.Output.Root)
	assert.InDelta(t, 3.0, cfg.Schedule.RatePerMinute, 0)
	assert.Equal(t, 100*time.Millisecond, cfg.Schedule.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Schedule.GracePeriod)
	assert.Zero(t, cfg.Schedule.TaskTimeout)
	assert.Equal(t, "scrapequeue/1.0", cfg.Engine.UserAgent)
	assert.Equal(t, 30*time.Second, cfg.Engine.RequestTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "task_runs", cfg.Ledger.Table)
	assert.False(t, cfg.Output.Stdout)
}

// TestLoadWithFileOverrides reads every section from a YAML file.
func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
input:
  file: urls.txt
scraper:
  dir: scrapers
output:
  root: results
  stdout: true
  numeric: true
  format: toml
schedule:
  rate_per_minute: 12
  poll_interval: 50ms
  grace_period: 1s
  task_timeout: 2m
engine:
  headless: true
  user_agent: real-agent
logging:
  level: debug
  development: true
metrics:
  addr: ":9090"
mirror:
  gcs_bucket: bucket
  prefix: runs
notify:
  project_id: proj
  topic: done
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, queue.Source{File: "urls.txt"}, cfg.QueueSource())
	assert.Equal(t, scraperdef.Source{Dir: "scrapers"}, cfg.ScraperSource())
	assert.Equal(t, OutputConfig{Root: "results", Stdout: true, Numeric: true, Format: "toml"}, cfg.Output)
	assert.Equal(t, ScheduleConfig{
		RatePerMinute: 12,
		PollInterval:  50 * time.Millisecond,
		GracePeriod:   time.Second,
		TaskTimeout:   2 * time.Minute,
	}, cfg.Schedule)
	assert.True(t, cfg.Engine.Headless)
	assert.Equal(t, "real-agent", cfg.Engine.UserAgent)
	assert.Equal(t, LoggingConfig{Level: "debug", Development: true}, cfg.Logging)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, MirrorConfig{GCSBucket: "bucket", Prefix: "runs"}, cfg.Mirror)
	assert.Equal(t, NotifyConfig{ProjectID: "proj", Topic: "done"}, cfg.Notify)
}

// TestLoadMissingFile wraps the read error.
func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

// TestEnvOverrides uses the SCRAPEQUEUE_ prefix with dots mapped to underscores.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPEQUEUE_INPUT_URL", "https://env.example.com/")
	t.Setenv("SCRAPEQUEUE_SCRAPER_FILE", "env.yaml")
	t.Setenv("SCRAPEQUEUE_SCHEDULE_RATE_PER_MINUTE", "6")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com/", cfg.Input.URL)
	assert.Equal(t, "env.yaml", cfg.Scraper.File)
	assert.InDelta(t, 6.0, cfg.Schedule.RatePerMinute, 0)
}

// TestConfigValidateErrors covers each rejected combination.
func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		target error
		want   string
	}{
		{name: "conflicting queue sources", mutate: func(c *Config) { c.Input.File = "urls.txt" }, target: queue.ErrConflictingSources},
		{name: "missing queue source", mutate: func(c *Config) { c.Input.URL = "  " }, target: queue.ErrMissingSource},
		{name: "conflicting scraper sources", mutate: func(c *Config) { c.Scraper.Dir = "scrapers" }, target: scraperdef.ErrConflictingSources},
		{name: "missing scraper source", mutate: func(c *Config) { c.Scraper.File = "" }, target: scraperdef.ErrMissingSource},
		{name: "unknown format", mutate: func(c *Config) { c.Output.Format = "xml" }, target: format.ErrUnknownFormat},
		{name: "empty root", mutate: func(c *Config) { c.Output.Root = "" }, want: "output.root"},
		{name: "nan rate", mutate: func(c *Config) { c.Schedule.RatePerMinute = math.NaN() }, want: "finite"},
		{name: "infinite rate", mutate: func(c *Config) { c.Schedule.RatePerMinute = math.Inf(1) }, want: "finite"},
		{name: "rate interval overflows", mutate: func(c *Config) { c.Schedule.RatePerMinute = 1e-9 }, want: "too small"},
		{name: "zero rate", mutate: func(c *Config) { c.Schedule.RatePerMinute = 0 }, want: "rate_per_minute"},
		{name: "zero poll", mutate: func(c *Config) { c.Schedule.PollInterval = 0 }, want: "poll_interval"},
		{name: "negative grace", mutate: func(c *Config) { c.Schedule.GracePeriod = -time.Second }, want: "grace_period"},
		{name: "negative timeout", mutate: func(c *Config) { c.Schedule.TaskTimeout = -time.Second }, want: "task_timeout"},
		{name: "zero request timeout", mutate: func(c *Config) { c.Engine.RequestTimeout = 0 }, want: "request_timeout"},
		{name: "topic without project", mutate: func(c *Config) { c.Notify.Topic = "done" }, want: "notify.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			if tt.target != nil {
				require.ErrorIs(t, err, tt.target)
			}
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

// TestConfigValidateAcceptsFormats allows every registered format.
func TestConfigValidateAcceptsFormats(t *testing.T) {
	t.Parallel()

	for _, name := range format.Names() {
		cfg := validConfig()
		cfg.Output.Format = name
		require.NoError(t, cfg.Validate(), name)
	}
}
