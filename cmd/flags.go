package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags defines every run flag on flags and binds it to its config key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.StringP("url", "u", "", "single url to scrape")
	flags.StringP("url-file", "f", "", "file with one url per line")
	flags.StringP("scraper", "s", "", "scraper definition file")
	flags.StringP("scraper-dir", "d", "", "directory of scraper definitions")
	flags.StringP("output", "o", "output", "output root directory")
	flags.Bool("stdout", false, "also write each result as a JSON line to stdout")
	flags.Bool("numeric-dirs", false, "name task directories by position instead of url")
	flags.String("format", "", "also write result.<ext> in this format (yaml, toml, csv)")
	flags.Float64P("rate", "r", 3, "maximum tasks started per minute")
	flags.Duration("poll-interval", 100*time.Millisecond, "scheduler tick")
	flags.Duration("grace", 3*time.Second, "wait after the final task before exiting")
	flags.Duration("task-timeout", 0, "abandon a scrape after this long (0 waits forever)")
	flags.Bool("headless", false, "render pages with headless Chrome")
	flags.String("user-agent", "scrapequeue/1.0", "user agent sent with every request")
	flags.Duration("request-timeout", 30*time.Second, "page load timeout")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-dev", false, "human-readable development logs")
	flags.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	flags.String("gcs-bucket", "", "mirror result.json to this GCS bucket")
	flags.String("gcs-prefix", "", "object prefix inside the GCS bucket")
	flags.String("pubsub-project", "", "project of the completion topic")
	flags.String("pubsub-topic", "", "Pub/Sub topic notified after each result")
	flags.String("ledger-dsn", "", "Postgres DSN for the task ledger")

	bindings := map[string]string{
		"input.url":                "url",
		"input.file":               "url-file",
		"scraper.file":             "scraper",
		"scraper.dir":              "scraper-dir",
		"output.root":              "output",
		"output.stdout":            "stdout",
		"output.numeric":           "numeric-dirs",
		"output.format":            "format",
		"schedule.rate_per_minute": "rate",
		"schedule.poll_interval":   "poll-interval",
		"schedule.grace_period":    "grace",
		"schedule.task_timeout":    "task-timeout",
		"engine.headless":          "headless",
		"engine.user_agent":        "user-agent",
		"engine.request_timeout":   "request-timeout",
		"logging.level":            "log-level",
		"logging.development":      "log-dev",
		"metrics.addr":             "metrics-addr",
		"mirror.gcs_bucket":        "gcs-bucket",
		"mirror.prefix":            "gcs-prefix",
		"notify.project_id":        "pubsub-project",
		"notify.topic":             "pubsub-topic",
		"ledger.dsn":               "ledger-dsn",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}
