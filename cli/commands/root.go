// Package commands provides the CLI command implementations for guessgame.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/config"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/styles"
	"github.com/simara-svatopluk/event-sourcing-occurrent/middleware/metrics"
	"github.com/simara-svatopluk/event-sourcing-occurrent/middleware/tracing"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// shutdownTimeout bounds how long subscriptions get to stop.
const shutdownTimeout = 10 * time.Second

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	backend     string
	databaseURL string
	metricsAddr string
	logLevel    string
	noColor     bool
	trace       bool
}

// NewRootCommand creates the root command for the guessgame CLI
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "guessgame",
		Short: "Event-sourced word guessing game",
		Long: styles.Title.Render("guessgame") + `

Plays word guessing games through an event-sourced command service and
projects their progress with live, catch-up and durable subscriptions.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("guessgame demo") + `                        Play and project in one process
  ` + styles.Code.Render("guessgame write --games 10") + `            Play random games
  ` + styles.Code.Render("guessgame project --mode durable") + `      Follow game progress
  ` + styles.Code.Render("guessgame stream game-1") + `               Print a game as CloudEvents`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				styles.DisableColors()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default: nearest "+config.ConfigFileName+")")
	flags.StringVar(&opts.backend, "backend", "", "Storage backend: memory, sqlite, postgres or mongodb")
	flags.StringVar(&opts.databaseURL, "database-url", "", "Database URL, or file path for sqlite")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&opts.trace, "trace", false, "Export trace spans to stderr")

	rootCmd.AddCommand(NewWriteCommand(opts))
	rootCmd.AddCommand(NewProjectCommand(opts))
	rootCmd.AddCommand(NewDemoCommand(opts))
	rootCmd.AddCommand(NewStreamCommand(opts))
	rootCmd.AddCommand(NewRelayCommand(opts))
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}

// loadConfig resolves the configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Resolve(o.configPath, cwd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.databaseURL != "" {
		cfg.Database.URL = o.databaseURL
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if o.trace {
		cfg.Tracing.Enabled = true
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// logger returns a text logger on the command's stderr.
func (o *globalOptions) logger(cmd *cobra.Command) (occurrent.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", o.logLevel)
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	return occurrent.NewSlogLogger(slog.New(handler).With("service", ServiceName)), nil
}

// session is an opened App plus the observability it runs with.
type session struct {
	*App
	cleanups []func(context.Context) error
}

// Close shuts the session down in reverse order of opening.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.App != nil {
		if err := s.App.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// open loads the configuration and opens an App with metrics and tracing as configured.
func (o *globalOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := o.logger(cmd)
	if err != nil {
		return nil, err
	}

	s := &session{}
	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New(metrics.WithMetricsServiceName(ServiceName))
		server, err := startMetrics(cfg.Metrics.Addr, m, logger)
		if err != nil {
			return nil, err
		}
		s.cleanups = append(s.cleanups, server.Shutdown)
	}

	var tracer *tracing.Tracer
	if cfg.Tracing.Enabled {
		t, shutdown, err := startTracing(cmd.ErrOrStderr())
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		tracer = t
		s.cleanups = append(s.cleanups, shutdown)
	}

	opened, err := OpenApp(cmd.Context(), cfg, logger, m, tracer)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.App = opened
	return s, nil
}
