// Package config loads and validates run configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scrapequeue/internal/format"
	"github.com/JakeFAU/scrapequeue/internal/queue"
	"github.com/JakeFAU/scrapequeue/internal/scraperdef"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPEQUEUE_SCHEDULE_RATE_PER_MINUTE.
const EnvPrefix = "SCRAPEQUEUE"

// ErrInvalid wraps every validation failure so callers can map it to exit status 1.
var ErrInvalid = errors.New("invalid configuration")

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Input    InputConfig    `mapstructure:"input"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Output   OutputConfig   `mapstructure:"output"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
}

// InputConfig selects the queue source.
type InputConfig struct {
	URL  string `mapstructure:"url"`
	File string `mapstructure:"file"`
}

// ScraperConfig selects the scraper definition source.
type ScraperConfig struct {
	File string `mapstructure:"file"`
	Dir  string `mapstructure:"dir"`
}

// OutputConfig controls where and how results are written.
type OutputConfig struct {
	Root    string `mapstructure:"root"`
	Stdout  bool   `mapstructure:"stdout"`
	Numeric bool   `mapstructure:"numeric"`
	Format  string `mapstructure:"format"`
}

// ScheduleConfig controls pacing and shutdown.
type ScheduleConfig struct {
	RatePerMinute float64       `mapstructure:"rate_per_minute"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`
}

// EngineConfig configures the page sources.
type EngineConfig struct {
	Headless       bool          `mapstructure:"headless"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features and level.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// MirrorConfig enables GCS mirroring when GCSBucket is set.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig enables Pub/Sub notifications when both fields are set.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LedgerConfig enables the Postgres run ledger when DSN is set.
type LedgerConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// New returns a Viper instance with defaults and environment overrides applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.url", "")
	v.SetDefault("input.file", "")
	v.SetDefault("scraper.file", "")
	v.SetDefault("scraper.dir", "")
	v.SetDefault("output.root", "output")
	v.SetDefault("output.stdout", false)
	v.SetDefault("output.numeric", false)
	v.SetDefault("output.format", "")
	v.SetDefault("schedule.rate_per_minute", 3)
	v.SetDefault("schedule.poll_interval", 100*time.Millisecond)
	v.SetDefault("schedule.grace_period", 3*time.Second)
	v.SetDefault("schedule.task_timeout", time.Duration(0))
	v.SetDefault("engine.headless", false)
	v.SetDefault("engine.user_agent", "scrapequeue/1.0")
	v.SetDefault("engine.request_timeout", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("mirror.gcs_bucket", "")
	v.SetDefault("mirror.prefix", "")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "task_runs")
}

// Load reads the optional config file into v, then unmarshals and validates.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// QueueSource returns the identifier source for queue.Load.
func (c Config) QueueSource() queue.Source {
	return queue.Source{Identifier: strings.TrimSpace(c.Input.URL), File: c.Input.File}
}

// ScraperSource returns the definition source for scraperdef.Resolve.
func (c Config) ScraperSource() scraperdef.Source {
	return scraperdef.Source{File: c.Scraper.File, Dir: c.Scraper.Dir}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.QueueSource().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.ScraperSource().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if strings.TrimSpace(c.Output.Root) == "" {
		return fmt.Errorf("%w: output.root is required", ErrInvalid)
	}
	if c.Output.Format != "" {
		if _, err := format.Lookup(c.Output.Format); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if err := validateRate(c.Schedule.RatePerMinute); err != nil {
		return err
	}
	if c.Schedule.PollInterval <= 0 {
		return fmt.Errorf("%w: schedule.poll_interval must be > 0", ErrInvalid)
	}
	if c.Schedule.GracePeriod < 0 {
		return fmt.Errorf("%w: schedule.grace_period must be >= 0", ErrInvalid)
	}
	if c.Schedule.TaskTimeout < 0 {
		return fmt.Errorf("%w: schedule.task_timeout must be >= 0", ErrInvalid)
	}
	if c.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("%w: engine.request_timeout must be > 0", ErrInvalid)
	}
	if (c.Notify.ProjectID == "") != (c.Notify.Topic == "") {
		return fmt.Errorf("%w: notify.project_id and notify.topic must be set together", ErrInvalid)
	}
	return nil
}

// validateRate accepts finite positive rates whose dispatch interval fits in
// a time.Duration.
func validateRate(perMinute float64) error {
	switch {
	case math.IsNaN(perMinute) || math.IsInf(perMinute, 0):
		return fmt.Errorf("%w: schedule.rate_per_minute must be finite", ErrInvalid)
	case perMinute <= 0:
		return fmt.Errorf("%w: schedule.rate_per_minute must be > 0", ErrInvalid)
	case float64(time.Minute)/perMinute >= math.MaxInt64:
		return fmt.Errorf("%w: schedule.rate_per_minute %g is too small", ErrInvalid, perMinute)
	}
	return nil
}
