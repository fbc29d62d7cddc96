package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmoraes/event-harvester/internal/config"
	"github.com/vmoraes/event-harvester/internal/logger"
	"github.com/vmoraes/event-harvester/internal/metrics"
	"github.com/vmoraes/event-harvester/internal/store"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

// Streams are the standard streams used by the commands.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

type flags struct {
	configFile  string
	envFile     string
	format      string
	sort        string
	logLevel    string
	databaseURL string
	targetURL   string
}

// app holds what every command needs once flags and configuration are resolved.
type app struct {
	streams   Streams
	flags     flags
	lookupEnv func(string) (string, bool)

	cfg     config.Config
	log     *logger.Logger
	logFile *os.File
	format  OutputFormat
	sort    SortOrder
	metrics *metrics.Metrics
	now     func() time.Time
}

func newApp(streams Streams, lookupEnv func(string) (string, bool)) *app {
	return &app{streams: streams, lookupEnv: lookupEnv, now: time.Now}
}

// execute runs the command line args and releases what setup opened, whether or not
// the command succeeded.
func (a *app) execute(ctx context.Context, args []string) error {
	defer a.teardown()
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// rootCmd creates the root command
func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event-harvester",
		Short: "Harvest schema.org events from a Modern Events Calendar site",
		Long: `A CLI tool that fetches an events page and its weekly "load more" batches,
extracts the JSON-LD event descriptions and merges them into a relational store.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	cmd.SetIn(a.streams.In)
	cmd.SetOut(a.streams.Out)
	cmd.SetErr(a.streams.Err)

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.flags.configFile, "config", "", "YAML config file")
	pf.StringVar(&a.flags.envFile, "env-file", ".env", "dotenv file (ignored when missing)")
	pf.StringVar(&a.flags.format, "format", "text", "Output format: text or json")
	pf.StringVar(&a.flags.sort, "sort", "", "Re-sort listings by date, name or location")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides LOG_LEVEL)")
	pf.StringVar(&a.flags.databaseURL, "database", "", "Database URL (overrides DATABASE_URL)")
	pf.StringVar(&a.flags.targetURL, "target", "", "Events page URL (overrides TARGET_URL)")

	cmd.AddCommand(
		a.scrapeCmd(),
		a.eventsCmd(),
		a.upcomingCmd(),
		a.locationCmd(),
		a.withMetadataCmd(),
		a.metadataCmd(),
		a.deleteEventCmd(),
		a.calendarCmd(),
		a.serveCmd(),
		a.menuCmd(),
	)
	return cmd
}

// setup resolves configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.Options{
		ConfigFile: a.flags.configFile,
		EnvFile:    a.flags.envFile,
		LookupEnv:  a.lookupEnv,
	})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	pf := cmd.Flags()
	if pf.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if pf.Changed("database") {
		cfg.DatabaseURL = a.flags.databaseURL
	}
	if pf.Changed("target") {
		cfg.TargetURL = a.flags.targetURL
	}
	a.cfg = cfg

	if a.format, err = ParseFormat(a.flags.format); err != nil {
		return err
	}
	if a.sort, err = ParseSortOrder(a.flags.sort); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	var w io.Writer = a.streams.Err
	if cfg.ScraperLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ScraperLog), 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.ScraperLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = f
		w = io.MultiWriter(a.streams.Err, f)
	}
	a.log = logger.New(level, w).With(logger.Fields{
		"app":         cfg.AppName,
		"environment": cfg.Environment,
	})
	a.metrics = metrics.New()
	return nil
}

func (a *app) teardown() {
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
}

func (a *app) openStore(ctx context.Context) (*store.SQL, error) {
	s, err := store.Open(ctx, a.cfg.DatabaseURL, a.log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// withReader opens the store, runs fn and closes the store again.
func (a *app) withReader(ctx context.Context, fn func(store.Reader) error) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streams := Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
	if err := newApp(streams, os.LookupEnv).execute(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return ExitError
	}
	return ExitSuccess
}
