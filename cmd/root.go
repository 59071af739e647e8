// Package cmd defines the scrapequeue command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapequeue/internal/app"
	"github.com/JakeFAU/scrapequeue/internal/config"
	"github.com/JakeFAU/scrapequeue/internal/logging"
)

const shutdownTimeout = 15 * time.Second

// newRootCmd creates the root command. opts overrides app collaborators and
// is empty outside tests.
func newRootCmd(opts app.Options) *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "scrapequeue",
		Short: "Drive a queue of urls through a scraper at a fixed rate.",
		Long: `scrapequeue reads urls from --url or --url-file and scrapes them one at a
time, no faster than --rate per minute. Each url gets its own directory under
--output holding result.json; --stdout also streams each result as one JSON line.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	if err := bindFlags(v, cmd.Flags()); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}
	return cmd
}

func run(ctx context.Context, cfg config.Config, opts app.Options) error {
	if opts.Logger == nil {
		logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return err
		}
		opts.Logger = logger
	}
	logger := opts.Logger

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	if err := a.Run(ctx); err != nil {
		logger.Error("run aborted", zap.String("run_id", a.RunID()), zap.Error(err))
		return err
	}
	return nil
}

// Execute runs the root command, canceling it on SIGINT or SIGTERM. Any error
// exits with status 1.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(app.Options{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "scrapequeue:", err)
		os.Exit(1)
	}
}
